// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// CompressionMode selects how a blob is packed.
type CompressionMode int

// Supported compression modes
const (
	CompressionNone CompressionMode = iota
	CompressionLZ4
	CompressionZstd
)

func (m CompressionMode) String() string {
	switch m {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("CompressionMode(%d)", int(m))
}

// ParseCompressionMode parses the names returned by String.
func ParseCompressionMode(s string) (CompressionMode, error) {
	for _, m := range []CompressionMode{CompressionNone, CompressionLZ4, CompressionZstd} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown compression mode %q", s)
}

// ErrUnknownCompression is returned for blobs packed in an unsupported mode.
var ErrUnknownCompression = errors.New("unknown compression mode")

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Pack compresses raw with the given mode. It returns the mode actually
// used, incompressible data is stored as is.
func Pack(mode CompressionMode, raw []byte) ([]byte, CompressionMode, error) {
	switch mode {
	case CompressionNone:
		return raw, CompressionNone, nil
	case CompressionLZ4:
		var hashTable [1 << 16]int
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, hashTable[:])
		if err != nil {
			return nil, mode, fmt.Errorf("lz4 compression failed: %s", err)
		}
		if n == 0 {
			return raw, CompressionNone, nil
		}
		return dst[:n], CompressionLZ4, nil
	case CompressionZstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, mode, err
		}
		return enc.EncodeAll(raw, nil), CompressionZstd, nil
	}
	return nil, mode, fmt.Errorf("%w: %d", ErrUnknownCompression, mode)
}

// Unpack decompresses blob into dst. dst must be exactly info.UnpackedSize long.
func Unpack(info Info, blob []byte, dst []byte) error {
	if uint64(len(dst)) != info.UnpackedSize {
		return fmt.Errorf("%w: destination is %d bytes, expected %d", ErrCorrupt, len(dst), info.UnpackedSize)
	}
	switch info.CompressionMode {
	case CompressionNone:
		if len(blob) != len(dst) {
			return fmt.Errorf("%w: blob is %d bytes, expected %d", ErrCorrupt, len(blob), len(dst))
		}
		copy(dst, blob)
		return nil
	case CompressionLZ4:
		if len(dst) == 0 {
			return nil
		}
		n, err := lz4.UncompressBlock(blob, dst)
		if err != nil {
			return fmt.Errorf("%w: lz4: %s", ErrCorrupt, err)
		}
		if n != len(dst) {
			return fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrCorrupt, n, len(dst))
		}
		return nil
	case CompressionZstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return err
		}
		out, err := dec.DecodeAll(blob, dst[:0])
		if err != nil {
			return fmt.Errorf("%w: zstd: %s", ErrCorrupt, err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("%w: zstd produced %d bytes, expected %d", ErrCorrupt, len(out), len(dst))
		}
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownCompression, info.CompressionMode)
}
