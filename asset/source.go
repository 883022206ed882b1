// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Source provides the raw bytes of assets by their relative path.
// Paths always use forward slashes. Implementations must be safe for
// concurrent use and return an error wrapping ErrNotFound for missing paths.
type Source interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// CleanPath normalizes an asset path, so that every spelling of the same
// file maps to one key.
func CleanPath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimLeft(p, "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	if p == "." {
		return ""
	}
	return p
}

// Load reads and decodes the asset at p from src.
func Load(ctx context.Context, src Source, p string) (*Asset, error) {
	r, err := src.Open(ctx, CleanPath(p))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	a, err := ReadFrom(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return a, nil
}

// DirSource reads assets from a directory on the file system.
type DirSource struct {
	root string
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// Root returns the directory the source reads from.
func (d *DirSource) Root() string {
	return d.root
}

// Rel maps a file system path inside the root to an asset path.
func (d *DirSource) Rel(name string) (string, error) {
	rel, err := filepath.Rel(d.root, name)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside of %s", name, d.root)
	}
	return CleanPath(rel), nil
}

// Open implements Source.
func (d *DirSource) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(CleanPath(p))))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}
