// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShaderFiles(t *testing.T) {
	dir := t.TempDir()
	word := []byte{0x03, 0x02, 0x23, 0x07}
	for name, data := range map[string][]byte{
		"default.vert.spv":  word,
		"shadow.vert.spv":   append(word, word...),
		"unlit.frag.spv":    word,
		"unlit.frag":        word,
		"too.many.vert.spv": word,
		"geometry.geom.spv": word,
		"notes.txt":         []byte("ignored"),
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}

	vertex, fragment, err := loadShaderFiles(dir)
	require.NoError(t, err)
	assert.Len(t, vertex, 2)
	assert.Len(t, fragment, 1)
	assert.Len(t, vertex["shadow"], 8)
	assert.Equal(t, word, fragment["unlit"])
}

func TestLoadShaderFilesEmpty(t *testing.T) {
	vertex, fragment, err := loadShaderFiles("")
	require.NoError(t, err)
	assert.Empty(t, vertex)
	assert.Empty(t, fragment)

	_, _, err = loadShaderFiles(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoadShaderFilesRejectsPartialWords(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.frag.spv"), []byte{1, 2, 3}, 0o644))
	_, _, err := loadShaderFiles(dir)
	assert.Error(t, err)
}

func TestSliceUint32(t *testing.T) {
	words := sliceUint32([]byte{1, 0, 0, 0, 2, 0, 0, 0, 9})
	assert.Len(t, words, 2)
	assert.Nil(t, sliceUint32([]byte{1}))
}
