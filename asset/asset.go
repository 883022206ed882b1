// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package asset reads and writes the engine asset container: a four byte
// type tag, a version, a JSON metadata document and a binary blob.
package asset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// package errors
var (
	ErrCorrupt            = errors.New("corrupted asset")
	ErrUnsupportedVersion = errors.New("unsupported asset version")
	ErrWrongType          = errors.New("asset is of a different type")
	ErrNotFound           = errors.New("asset not found")
)

// CurrentVersion is written into every saved asset.
const CurrentVersion uint32 = 1

// maxSectionSize guards against allocating garbage sizes from corrupt headers.
const maxSectionSize = 1 << 32

// Type identifies the kind of data an asset holds.
type Type int

// Asset types
const (
	Unknown Type = iota
	Mesh
	Texture
	Shader
	Material
)

var (
	tagMesh     = [4]byte{'M', 'E', 'S', 'H'}
	tagTexture  = [4]byte{'T', 'E', 'X', 'I'}
	tagShader   = [4]byte{'S', 'H', 'A', 'D'}
	tagMaterial = [4]byte{'M', 'A', 'T', 'L'}
)

// TypeOf maps a type tag to its Type.
func TypeOf(tag [4]byte) Type {
	switch tag {
	case tagMesh:
		return Mesh
	case tagTexture:
		return Texture
	case tagShader:
		return Shader
	case tagMaterial:
		return Material
	}
	return Unknown
}

// Tag returns the four byte tag of t.
func (t Type) Tag() [4]byte {
	switch t {
	case Mesh:
		return tagMesh
	case Texture:
		return tagTexture
	case Shader:
		return tagShader
	case Material:
		return tagMaterial
	}
	return [4]byte{}
}

// Extension returns the file extension assets of t are stored with.
func (t Type) Extension() string {
	switch t {
	case Mesh:
		return ".obsmesh"
	case Texture:
		return ".obstex"
	case Shader:
		return ".obsshad"
	case Material:
		return ".obsmat"
	}
	return ""
}

func (t Type) String() string {
	switch t {
	case Mesh:
		return "mesh"
	case Texture:
		return "texture"
	case Shader:
		return "shader"
	case Material:
		return "material"
	}
	return "unknown"
}

// TypeFromPath guesses the asset type from a file extension.
func TypeFromPath(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))
	for _, t := range []Type{Mesh, Texture, Shader, Material} {
		if t.Extension() == ext {
			return t
		}
	}
	return Unknown
}

// Asset is a serialized engine resource.
type Asset struct {
	Tag     [4]byte
	Version uint32
	JSON    []byte
	Blob    []byte
}

// New creates an asset of type t with the current version.
func New(t Type, json, blob []byte) *Asset {
	return &Asset{
		Tag:     t.Tag(),
		Version: CurrentVersion,
		JSON:    json,
		Blob:    blob,
	}
}

// Type returns the asset type encoded in the tag.
func (a *Asset) Type() Type {
	return TypeOf(a.Tag)
}

// Size returns the number of bytes held in memory by the asset.
func (a *Asset) Size() int64 {
	return int64(len(a.JSON) + len(a.Blob))
}

type fileHeader struct {
	Tag      [4]byte
	Version  uint32
	JSONSize uint64
	BlobSize uint64
}

// ReadFrom decodes an asset from r.
func ReadFrom(r io.Reader) (*Asset, error) {
	var header fileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %s", ErrCorrupt, err)
	}
	if header.Version == 0 || header.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}
	if header.JSONSize > maxSectionSize || header.BlobSize > maxSectionSize {
		return nil, fmt.Errorf("%w: section too large", ErrCorrupt)
	}

	a := &Asset{
		Tag:     header.Tag,
		Version: header.Version,
		JSON:    make([]byte, header.JSONSize),
		Blob:    make([]byte, header.BlobSize),
	}
	if _, err := io.ReadFull(r, a.JSON); err != nil {
		return nil, fmt.Errorf("%w: json: %s", ErrCorrupt, err)
	}
	if _, err := io.ReadFull(r, a.Blob); err != nil {
		return nil, fmt.Errorf("%w: blob: %s", ErrCorrupt, err)
	}
	return a, nil
}

// WriteTo encodes the asset into w.
func (a *Asset) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	header := fileHeader{
		Tag:      a.Tag,
		Version:  a.Version,
		JSONSize: uint64(len(a.JSON)),
		BlobSize: uint64(len(a.Blob)),
	}
	if err := binary.Write(cw, binary.LittleEndian, &header); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(a.JSON); err != nil {
		return cw.n, err
	}
	_, err := cw.Write(a.Blob)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// LoadFromFile reads an asset from the file system.
func LoadFromFile(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()
	return ReadFrom(bufio.NewReader(f))
}

// SaveToFile writes an asset to the file system, creating parent directories.
func SaveToFile(path string, a *Asset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if _, err := a.WriteTo(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
