// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestConvertImage(t *testing.T) {
	a, err := convert("brick.png", encodePNG(t, 4, 2), asset.CompressionLZ4)
	require.NoError(t, err)
	require.Equal(t, asset.Texture, a.Type())

	info, err := asset.ReadTextureInfo(a)
	require.NoError(t, err)
	assert.Equal(t, gfx.FormatR8G8B8A8, info.Format)
	assert.Equal(t, uint32(4), info.Width)
	assert.Equal(t, uint32(2), info.Height)

	pixels := make([]byte, info.UnpackedSize)
	require.NoError(t, asset.Unpack(info.Info, a.Blob, pixels))
	assert.Equal(t, []byte{255, 0, 0, 255}, pixels[4:8])
}

func TestConvertImageByContent(t *testing.T) {
	a, err := convert("no-extension", encodePNG(t, 1, 1), asset.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, asset.Texture, a.Type())
}

func TestConvertShader(t *testing.T) {
	a, err := convert("lit.frag.spv", make([]byte, 16), asset.CompressionNone)
	require.NoError(t, err)
	info, err := asset.ReadShaderInfo(a)
	require.NoError(t, err)
	assert.Equal(t, gfx.FragmentShader, info.ShaderType)
}

func TestConvertUnsupported(t *testing.T) {
	_, err := convert("notes.txt", []byte("hello"), asset.CompressionNone)
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	pdf := append([]byte("%PDF-1.4\n"), make([]byte, 32)...)
	_, err = convert("doc.bin", pdf, asset.CompressionNone)
	assert.ErrorIs(t, err, ErrUnsupportedSource)
	assert.Contains(t, err.Error(), "application/pdf")
}

func TestImportFileNamesAsset(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "brick.png")
	require.NoError(t, os.WriteFile(src, encodePNG(t, 2, 2), 0o644))

	path, err := importFile(src, dir, asset.CompressionZstd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "brick.obstex"), path)

	a, err := asset.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, asset.Texture, a.Type())
}

func TestAssetFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "meshes"), 0o755))
	for _, name := range []string{"meshes/cube.obsmesh", "white.obsmat", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), nil, 0o644))
	}

	names, err := assetFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"meshes/cube.obsmesh", "white.obsmat"}, names)
}

func TestDescribeSizes(t *testing.T) {
	assert.Equal(t, "100 bytes, 25 packed (25%)", describeSizes(100, 25))
	assert.Equal(t, "7 bytes", describeSizes(0, 7))
}
