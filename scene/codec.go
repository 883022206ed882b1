// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for scene files of an unknown format.
var ErrUnknownFormat = errors.New("unknown scene format")

// Format is an encoding of a scene file.
type Format int

// Scene file formats
const (
	FormatUnknown Format = iota
	FormatJSON
	FormatTOML
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatTOML:
		return "toml"
	case FormatYAML:
		return "yaml"
	}
	return "unknown"
}

// FormatFromPath guesses the format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatUnknown
}

// Load decodes a scene.
func Load(r io.Reader, f Format) (*Scene, error) {
	var s Scene
	var err error
	switch f {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&s)
	case FormatTOML:
		err = toml.NewDecoder(r).Decode(&s)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&s)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s scene: %w", f, err)
	}
	return &s, nil
}

// LoadFile loads a scene file, the format follows the extension.
func LoadFile(path string) (*Scene, error) {
	f := FormatFromPath(path)
	if f == FormatUnknown {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Load(file, f)
}

// Save encodes s.
func (s *Scene) Save(w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatTOML:
		return toml.NewEncoder(w).Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	}
	return ErrUnknownFormat
}

// SaveFile writes s to path, the format follows the extension.
func (s *Scene) SaveFile(path string) error {
	f := FormatFromPath(path)
	if f == FormatUnknown {
		return fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Save(file, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
