// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/gfx/headless"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(dst []byte) error {
	for i := range dst {
		dst[i] = byte(i)
	}
	return nil
}

func uploadBasics(t *testing.T, dev *headless.Device) (mesh, material gfx.ResourceID) {
	t.Helper()
	tex, err := dev.UploadTexture(gfx.UploadTexture{Format: gfx.FormatR8G8B8A8, Width: 2, Height: 2, Unpack: fill, DebugName: "tex"})
	require.NoError(t, err)
	shader, err := dev.UploadShader(gfx.UploadShader{Type: gfx.FragmentShader, Size: 16, Unpack: fill, DebugName: "frag"})
	require.NoError(t, err)
	material, err = dev.UploadMaterial(gfx.UploadMaterial{
		Type:           gfx.Unlit,
		VertexShader:   gfx.InvalidID,
		FragmentShader: shader,
		Unlit:          &gfx.UnlitMaterial{Color: glm.Vec4{1, 1, 1, 1}, ColorTexture: tex},
		DebugName:      "mat",
	})
	require.NoError(t, err)
	mesh, err = dev.UploadMesh(gfx.UploadMesh{VertexCount: 3, VertexBufferSize: 36, IndexCount: 3, IndexBufferSizes: []uint64{12}, Unpack: fill, DebugName: "mesh"})
	require.NoError(t, err)
	return mesh, material
}

func renderOnce(t *testing.T, f gfx.Frame, draws ...gfx.DrawCall) {
	t.Helper()
	require.NoError(t, f.Wait(time.Second))
	require.NoError(t, f.Acquire())
	require.NoError(t, f.Reset())
	require.NoError(t, f.WriteUniforms(gfx.FrameUniforms{}))
	cb, err := f.Begin()
	require.NoError(t, err)
	require.NoError(t, cb.BeginPass(gfx.MainPass, gfx.PassParams{}))
	for _, dc := range draws {
		require.NoError(t, cb.Draw(dc))
	}
	require.NoError(t, cb.EndPass())
	require.NoError(t, f.Submit())
	require.NoError(t, f.Present())
}

func TestUploadMaterialRequiresDependencies(t *testing.T) {
	dev := headless.New()
	defer dev.Destroy()

	_, err := dev.UploadMaterial(gfx.UploadMaterial{
		Type:           gfx.Unlit,
		VertexShader:   gfx.InvalidID,
		FragmentShader: 42,
		Unlit:          &gfx.UnlitMaterial{ColorTexture: gfx.InvalidID},
	})
	assert.True(t, errors.Is(err, gfx.ErrUnknownResource))

	_, err = dev.UploadShader(gfx.UploadShader{Size: 3, Unpack: fill})
	assert.True(t, errors.Is(err, gfx.ErrInvalidDescription))
}

func TestUnpackErrorFailsUpload(t *testing.T) {
	dev := headless.New()
	defer dev.Destroy()

	boom := errors.New("boom")
	_, err := dev.UploadTexture(gfx.UploadTexture{
		Format: gfx.FormatR8G8B8, Width: 1, Height: 1,
		Unpack: func([]byte) error { return boom },
	})
	assert.True(t, errors.Is(err, boom))
}

func TestFrameLifecycle(t *testing.T) {
	dev := headless.New(headless.WithLatency(time.Millisecond))
	defer dev.Destroy()
	mesh, material := uploadBasics(t, dev)

	f, err := dev.NewFrame(0)
	require.NoError(t, err)
	dc := gfx.DrawCall{Transform: glm.Ident4(), Mesh: mesh, Materials: []gfx.ResourceID{material}}
	for i := 0; i < 3; i++ {
		renderOnce(t, f, dc)
	}
	require.NoError(t, dev.WaitIdle())

	assert.Empty(t, dev.Violations())
	stats := dev.Stats()
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(3), stats.Completed)
	assert.Equal(t, 4, stats.Live)
	assert.Len(t, headless.Filter(dev.Events(), headless.EventPresent), 3)
}

func TestWaitTimesOutWhileGPUBusy(t *testing.T) {
	dev := headless.New(headless.WithLatency(200 * time.Millisecond))
	defer dev.Destroy()

	f, err := dev.NewFrame(0)
	require.NoError(t, err)
	renderOnce(t, f)
	assert.Equal(t, gfx.ErrTimeout, f.Wait(time.Millisecond))
	assert.NoError(t, f.Wait(2*time.Second))
}

func TestUniformWriteInFlightIsFlagged(t *testing.T) {
	dev := headless.New(headless.WithLatency(100 * time.Millisecond))
	defer dev.Destroy()

	f, err := dev.NewFrame(0)
	require.NoError(t, err)
	renderOnce(t, f)
	require.NoError(t, f.WriteUniforms(gfx.FrameUniforms{}))
	require.NoError(t, dev.WaitIdle())

	violations := dev.Violations()
	require.Len(t, violations, 1)
	assert.Equal(t, headless.ViolationUniformInFlight, violations[0].Kind)
}

func TestReleaseWhileInFlightIsFlagged(t *testing.T) {
	dev := headless.New(headless.WithLatency(50 * time.Millisecond))
	defer dev.Destroy()
	mesh, material := uploadBasics(t, dev)

	f, err := dev.NewFrame(0)
	require.NoError(t, err)
	renderOnce(t, f, gfx.DrawCall{Transform: glm.Ident4(), Mesh: mesh, Materials: []gfx.ResourceID{material}})
	dev.ReleaseMesh(mesh)
	require.NoError(t, dev.WaitIdle())

	violations := dev.Violations()
	require.NotEmpty(t, violations)
	assert.Equal(t, headless.ViolationReleasedResource, violations[0].Kind)
	assert.Equal(t, mesh, violations[0].Resource)
	assert.True(t, dev.Released(mesh))

	dev.ReleaseMesh(mesh)
	violations = dev.Violations()
	assert.Equal(t, headless.ViolationDoubleRelease, violations[len(violations)-1].Kind)
}

func TestSurfaceOutOfDate(t *testing.T) {
	dev := headless.New(headless.WithExtent(gfx.Extent2D{Width: 640, Height: 480}))
	defer dev.Destroy()

	f, err := dev.NewFrame(0)
	require.NoError(t, err)
	dev.SetSurfaceExtent(gfx.Extent2D{Width: 1024, Height: 768})
	assert.Equal(t, gfx.ErrOutOfDate, f.Acquire())

	require.NoError(t, dev.Resize(gfx.Extent2D{Width: 1024, Height: 768}))
	assert.NoError(t, f.Acquire())
	assert.Equal(t, gfx.Extent2D{Width: 1024, Height: 768}, dev.Extent())
}

func TestPassStateIsChecked(t *testing.T) {
	dev := headless.New()
	defer dev.Destroy()

	f, err := dev.NewFrame(0)
	require.NoError(t, err)
	require.NoError(t, f.Reset())
	cb, err := f.Begin()
	require.NoError(t, err)

	assert.True(t, errors.Is(cb.Draw(gfx.DrawCall{}), gfx.ErrPassState))
	assert.True(t, errors.Is(cb.EndPass(), gfx.ErrPassState))
	require.NoError(t, cb.BeginPass(gfx.ShadowPass, gfx.PassParams{}))
	assert.True(t, errors.Is(cb.BeginPass(gfx.MainPass, gfx.PassParams{}), gfx.ErrPassState))
	assert.True(t, errors.Is(f.Submit(), gfx.ErrPassState))
}
