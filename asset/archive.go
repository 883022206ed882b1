// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Zubo/obsidian-engine-sub000/utility/kar"
	"golang.org/x/exp/mmap"
)

// ArchiveSource reads assets from a memory mapped kar archive.
type ArchiveSource struct {
	file    *mmap.ReaderAt
	archive *kar.Archive
}

// OpenArchive maps the kar file at name.
func OpenArchive(name string) (*ArchiveSource, error) {
	r, err := mmap.Open(name)
	if err != nil {
		return nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &ArchiveSource{file: r, archive: ar}, nil
}

// Archive exposes the underlying archive.
func (s *ArchiveSource) Archive() *kar.Archive {
	return s.archive
}

// Open implements Source.
func (s *ArchiveSource) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.archive.Open(CleanPath(p))
	if errors.Is(err, kar.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close unmaps the archive. Readers opened before are invalid afterwards.
func (s *ArchiveSource) Close() error {
	return s.file.Close()
}
