// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset_test

import (
	"bytes"
	"context"
	"errors"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/utility/kar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerboard(w, h int) []byte {
	pixels := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(0)
			if (x/8+y/8)%2 == 0 {
				v = 255
			}
			i := (y*w + x) * 4
			pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = v, v, v, 255
		}
	}
	return pixels
}

func TestWriteAndRead(t *testing.T) {
	a := asset.New(asset.Shader, []byte(`{"shaderType":1}`), []byte{3, 2, 0x23, 7})
	var buf bytes.Buffer
	_, err := a.WriteTo(&buf)
	require.NoError(t, err)

	b, err := asset.ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, asset.Shader, b.Type())
	assert.Equal(t, a.JSON, b.JSON)
	assert.Equal(t, a.Blob, b.Blob)
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := asset.ReadFrom(bytes.NewReader([]byte("MESH")))
	assert.True(t, errors.Is(err, asset.ErrCorrupt))

	a := asset.New(asset.Mesh, nil, nil)
	a.Version = 99
	var buf bytes.Buffer
	_, err = a.WriteTo(&buf)
	require.NoError(t, err)
	_, err = asset.ReadFrom(&buf)
	assert.True(t, errors.Is(err, asset.ErrUnsupportedVersion))
}

func TestCompressionModes(t *testing.T) {
	raw := checkerboard(64, 64)
	for _, mode := range []asset.CompressionMode{asset.CompressionNone, asset.CompressionLZ4, asset.CompressionZstd} {
		t.Run(mode.String(), func(t *testing.T) {
			a, err := asset.PackTexture(asset.TextureInfo{Format: gfx.FormatR8G8B8A8, Width: 64, Height: 64}, raw, mode)
			require.NoError(t, err)
			info, err := asset.ReadTextureInfo(a)
			require.NoError(t, err)
			assert.Equal(t, mode, info.CompressionMode)
			if mode != asset.CompressionNone {
				assert.Less(t, len(a.Blob), len(raw))
			}

			dst := make([]byte, info.UnpackedSize)
			require.NoError(t, asset.Unpack(info.Info, a.Blob, dst))
			assert.Equal(t, raw, dst)
		})
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	raw := make([]byte, 512)
	rand.New(rand.NewSource(1)).Read(raw)
	blob, used, err := asset.Pack(asset.CompressionLZ4, raw)
	require.NoError(t, err)
	assert.Equal(t, asset.CompressionNone, used)
	assert.Equal(t, raw, blob)
}

func TestUnpackSizeMismatch(t *testing.T) {
	err := asset.Unpack(asset.Info{UnpackedSize: 4}, []byte{1, 2, 3, 4}, make([]byte, 3))
	assert.True(t, errors.Is(err, asset.ErrCorrupt))
	err = asset.Unpack(asset.Info{UnpackedSize: 4, CompressionMode: 7}, nil, make([]byte, 4))
	assert.True(t, errors.Is(err, asset.ErrUnknownCompression))
}

func TestMeshInfoMustAddUp(t *testing.T) {
	a, err := asset.PackMesh(asset.MeshInfo{
		VertexCount: 3, VertexBufferSize: 36, IndexCount: 3, IndexBufferSizes: []uint64{12},
	}, make([]byte, 48), asset.CompressionNone)
	require.NoError(t, err)
	_, err = asset.ReadMeshInfo(a)
	require.NoError(t, err)

	a, err = asset.PackMesh(asset.MeshInfo{VertexCount: 3, VertexBufferSize: 36}, make([]byte, 48), asset.CompressionNone)
	require.NoError(t, err)
	_, err = asset.ReadMeshInfo(a)
	assert.True(t, errors.Is(err, asset.ErrCorrupt))

	_, err = asset.ReadTextureInfo(a)
	assert.True(t, errors.Is(err, asset.ErrWrongType))
}

func TestMaterialDependencies(t *testing.T) {
	a, err := asset.PackMaterial(asset.MaterialInfo{
		MaterialType: gfx.Lit,
		Shader:       "shaders/lit.obsshad",
		Lit:          &asset.LitData{DiffuseTex: "tex/wall.obstex"},
	})
	require.NoError(t, err)
	info, err := asset.ReadMaterialInfo(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"shaders/lit.obsshad", "tex/wall.obstex"}, info.Dependencies())

	a, err = asset.PackMaterial(asset.MaterialInfo{})
	require.NoError(t, err)
	_, err = asset.ReadMaterialInfo(a)
	assert.True(t, errors.Is(err, asset.ErrCorrupt))
}

func TestCleanPath(t *testing.T) {
	for in, want := range map[string]string{
		"a/b.obsmat":        "a/b.obsmat",
		"./a/b.obsmat":      "a/b.obsmat",
		"/a//b.obsmat":      "a/b.obsmat",
		"a/../c/./d.obstex": "c/d.obstex",
		".":                 "",
	} {
		assert.Equal(t, want, asset.CleanPath(in), in)
	}
	assert.Equal(t, asset.Material, asset.TypeFromPath("x/Y.OBSMAT"))
	assert.Equal(t, asset.Unknown, asset.TypeFromPath("x/y.png"))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	a := asset.New(asset.Shader, []byte(`{}`), []byte{1, 2, 3, 4})
	require.NoError(t, asset.SaveToFile(filepath.Join(dir, "shaders", "s.obsshad"), a))

	src := asset.NewDirSource(dir)
	b, err := asset.Load(context.Background(), src, "./shaders/s.obsshad")
	require.NoError(t, err)
	assert.Equal(t, a.Blob, b.Blob)

	_, err = asset.Load(context.Background(), src, "shaders/missing.obsshad")
	assert.True(t, errors.Is(err, asset.ErrNotFound))

	rel, err := src.Rel(filepath.Join(dir, "shaders", "s.obsshad"))
	require.NoError(t, err)
	assert.Equal(t, "shaders/s.obsshad", rel)
	_, err = src.Rel(filepath.Join(dir, "..", "elsewhere"))
	assert.Error(t, err)
}

func TestArchiveSource(t *testing.T) {
	a := asset.New(asset.Shader, []byte(`{}`), bytes.Repeat([]byte{1, 2, 3, 4}, 64))
	var encoded bytes.Buffer
	_, err := a.WriteTo(&encoded)
	require.NoError(t, err)

	builder, err := kar.NewBuilder(kar.Header{Author: "test"})
	require.NoError(t, err)
	defer builder.Close()
	require.NoError(t, builder.Add("shaders/s.obsshad", &encoded))

	path := filepath.Join(t.TempDir(), "assets.kar")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = builder.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	src, err := asset.OpenArchive(path)
	require.NoError(t, err)
	defer src.Close()

	b, err := asset.Load(context.Background(), src, "/shaders/s.obsshad")
	require.NoError(t, err)
	assert.Equal(t, a.Blob, b.Blob)

	_, err = asset.Load(context.Background(), src, "nope.obsshad")
	assert.True(t, errors.Is(err, asset.ErrNotFound))
}

func TestOpenArchiveRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.kar")
	require.NoError(t, ioutil.WriteFile(path, []byte("definitely not an archive"), 0644))
	_, err := asset.OpenArchive(path)
	assert.True(t, errors.Is(err, kar.ErrFileFormat))
}

// TestObjectSource requires a running MinIO instance, configured through
// KORU_TEST_S3_ENDPOINT.
func TestObjectSource(t *testing.T) {
	endpoint := os.Getenv("KORU_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("KORU_TEST_S3_ENDPOINT not set")
	}
	src, err := asset.NewObjectSource(asset.ObjectConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "koru-test",
		Prefix:    "assets",
	})
	require.NoError(t, err)

	ctx := context.Background()
	a := asset.New(asset.Shader, []byte(`{}`), []byte{1, 2, 3, 4})
	require.NoError(t, src.Put(ctx, "s.obsshad", a))
	b, err := asset.Load(ctx, src, "s.obsshad")
	require.NoError(t, err)
	assert.Equal(t, a.Blob, b.Blob)

	_, err = asset.Load(ctx, src, "missing.obsshad")
	assert.True(t, errors.Is(err, asset.ErrNotFound))
}
