// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/model"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// ErrUnsupportedSource is returned for files that cannot become assets.
var ErrUnsupportedSource = errors.New("unsupported source file")

func runImport(args []string, out *printer) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dst := fs.String("o", ".", "Output directory")
	compression := fs.String("compression", "lz4", "Blob compression: none, lz4 or zstd")
	jobs := fs.Int("j", runtime.NumCPU(), "Files converted in parallel")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := asset.ParseCompressionMode(*compression)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*dst, 0o755); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*jobs)
	for _, src := range fs.Args() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path, err := importFile(src, *dst, mode)
			if err != nil {
				out.fail("%s: %s", src, err)
				return fmt.Errorf("%s: %w", src, err)
			}
			out.ok("%s -> %s", src, path)
			return nil
		})
	}
	return g.Wait()
}

// importFile converts src and saves the asset into dir.
func importFile(src, dir string, mode asset.CompressionMode) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	a, err := convert(filepath.Base(src), data, mode)
	if err != nil {
		return "", err
	}
	name := filepath.Base(src)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + a.Type().Extension()
	path := filepath.Join(dir, name)
	return path, asset.SaveToFile(path, a)
}

// convert builds an asset from the contents of a source file. Images are
// recognised by content, meshes and shaders by extension.
func convert(name string, data []byte, mode asset.CompressionMode) (*asset.Asset, error) {
	if filetype.IsImage(data) {
		return convertImage(data, mode)
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".dae"):
		mesh, err := model.ImportCollada(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return mesh.Pack(mode)
	case strings.HasSuffix(lower, ".vert.spv"):
		return asset.PackShader(asset.ShaderInfo{ShaderType: gfx.VertexShader}, data, mode)
	case strings.HasSuffix(lower, ".frag.spv"):
		return asset.PackShader(asset.ShaderInfo{ShaderType: gfx.FragmentShader}, data, mode)
	}
	kind, _ := filetype.Match(data)
	if kind != filetype.Unknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, kind.MIME.Value)
	}
	return nil, ErrUnsupportedSource
}

func convertImage(data []byte, mode asset.CompressionMode) (*asset.Asset, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	info := asset.TextureInfo{
		Format: gfx.FormatR8G8B8A8,
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
	}
	a, err := asset.PackTexture(info, rgba.Pix, mode)
	if err != nil {
		return nil, fmt.Errorf("pack %s texture: %w", format, err)
	}
	return a, nil
}
