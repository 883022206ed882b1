// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource_test

import (
	"testing"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsChangedAssets(t *testing.T) {
	e := newEnv(t)
	e.scene(t)
	mat := e.loader.RequestPath("matA.obsmat")
	eventually(t, mat, resource.GPUReady)

	reloaded := make(chan []string, 4)
	w, err := resource.NewWatcher(e.src, e.mgr, e.loader,
		resource.WithSettle(20*time.Millisecond),
		resource.OnReload(func(paths []string) { reloaded <- paths }))
	require.NoError(t, err)
	defer w.Close()

	e.texture(t, "t1.obstex", 32)

	select {
	case paths := <-reloaded:
		assert.ElementsMatch(t, []string{"t1.obstex", "matA.obsmat"}, paths)
	case <-time.After(waitFor):
		t.Fatal("no reload after the texture changed")
	}
	assert.Equal(t, resource.Released, mat.State())

	again := e.mgr.Get("matA.obsmat")
	assert.NotSame(t, mat, again)
	eventually(t, again, resource.GPUReady)
	eventually(t, e.mgr.Get("t1.obstex"), resource.GPUReady)
	assert.Empty(t, e.dev.Violations())
}

func TestWatcherIgnoresUnknownFiles(t *testing.T) {
	e := newEnv(t)
	e.mesh(t, "cube.obsmesh")

	reloaded := make(chan []string, 1)
	w, err := resource.NewWatcher(e.src, e.mgr, e.loader,
		resource.WithSettle(10*time.Millisecond),
		resource.OnReload(func(paths []string) { reloaded <- paths }))
	require.NoError(t, err)
	defer w.Close()

	// never requested, nothing to reload
	e.mesh(t, "cube.obsmesh")
	select {
	case paths := <-reloaded:
		t.Fatalf("unexpected reload of %v", paths)
	case <-time.After(200 * time.Millisecond):
	}
}
