// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene_test

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/gfx/headless"
	"github.com/Zubo/obsidian-engine-sub000/resource"
	"github.com/Zubo/obsidian-engine-sub000/scene"
	"github.com/Zubo/obsidian-engine-sub000/task"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldTransformFollowsParent(t *testing.T) {
	root := &scene.GameObject{
		Name:     "root",
		Position: glm.Vec3{1, 0, 0},
		Scale:    glm.Vec3{2, 2, 2},
		Children: []*scene.GameObject{{Name: "child", Position: glm.Vec3{0, 2, 0}}},
	}
	s := &scene.Scene{Objects: []*scene.GameObject{root}}

	worlds := make(map[string]glm.Vec3)
	s.Walk(func(o *scene.GameObject, world glm.Mat4) {
		worlds[o.Name] = world.Col(3).Vec3()
	})
	assert.True(t, worlds["root"].ApproxEqual(glm.Vec3{1, 0, 0}))
	assert.True(t, worlds["child"].ApproxEqual(glm.Vec3{1, 4, 0}), "%v", worlds["child"])
}

func TestRotationIsAppliedInDegrees(t *testing.T) {
	o := &scene.GameObject{Euler: glm.Vec3{0, 90, 0}}
	x := o.Transform().Mul4x1(glm.Vec4{1, 0, 0, 0}).Vec3()
	assert.True(t, x.ApproxEqualThreshold(glm.Vec3{0, 0, -1}, 1e-5), "%v", x)
}

func TestCameraPitchStopsAtPoles(t *testing.T) {
	var c scene.Camera
	c.Rotate(0, -100000)
	assert.InDelta(t, math.Pi/2, c.RotationRad[0], 1e-6)
	c.Rotate(0, 200000)
	assert.InDelta(t, -math.Pi/2, c.RotationRad[0], 1e-6)
}

func TestPathsAreUnique(t *testing.T) {
	s := &scene.Scene{Objects: []*scene.GameObject{
		{Mesh: "cube.obsmesh", Materials: []string{"a.obsmat"}},
		{Mesh: "cube.obsmesh", Materials: []string{"a.obsmat", "b.obsmat"},
			Children: []*scene.GameObject{{Mesh: "ball.obsmesh"}}},
	}}
	assert.Equal(t, []string{"cube.obsmesh", "a.obsmat", "b.obsmat", "ball.obsmesh"}, s.Paths())
}

const sceneJSON = `{
  "ambientColor": [0.1, 0.1, 0.1],
  "sun": {"direction": [0, -1, 0], "color": [1, 1, 1], "intensity": 2},
  "camera": {"pos": [0, 1, -5], "cameraRotationRad": [0, 0]},
  "gameObjects": [
    {"name": "cube", "pos": [1, 0, 0], "mesh": "cube.obsmesh", "materials": ["matA.obsmat"],
     "children": [{"name": "small", "scale": [0.5, 0.5, 0.5]}]}
  ]
}`

const sceneTOML = `ambientColor = [0.1, 0.1, 0.1]

[sun]
direction = [0.0, -1.0, 0.0]
color = [1.0, 1.0, 1.0]
intensity = 2.0

[camera]
pos = [0.0, 1.0, -5.0]
cameraRotationRad = [0.0, 0.0]

[[gameObjects]]
name = "cube"
pos = [1.0, 0.0, 0.0]
mesh = "cube.obsmesh"
materials = ["matA.obsmat"]

[[gameObjects.children]]
name = "small"
scale = [0.5, 0.5, 0.5]
`

const sceneYAML = `ambientColor: [0.1, 0.1, 0.1]
sun:
  direction: [0, -1, 0]
  color: [1, 1, 1]
  intensity: 2
camera:
  pos: [0, 1, -5]
  cameraRotationRad: [0, 0]
gameObjects:
  - name: cube
    pos: [1, 0, 0]
    mesh: cube.obsmesh
    materials: [matA.obsmat]
    children:
      - name: small
        scale: [0.5, 0.5, 0.5]
`

func checkLoaded(t *testing.T, s *scene.Scene) {
	t.Helper()
	assert.True(t, s.AmbientColor.ApproxEqual(glm.Vec3{0.1, 0.1, 0.1}))
	assert.Equal(t, float32(2), s.Sun.Intensity)
	assert.Equal(t, glm.Vec3{0, 1, -5}, s.Camera.Pos)
	require.Len(t, s.Objects, 1)
	cube := s.Objects[0]
	assert.Equal(t, "cube", cube.Name)
	assert.Equal(t, glm.Vec3{1, 0, 0}, cube.Position)
	assert.Equal(t, "cube.obsmesh", cube.Mesh)
	assert.Equal(t, []string{"matA.obsmat"}, cube.Materials)
	require.Len(t, cube.Children, 1)
	assert.Equal(t, glm.Vec3{0.5, 0.5, 0.5}, cube.Children[0].Scale)
}

func TestLoadFormats(t *testing.T) {
	for f, text := range map[scene.Format]string{
		scene.FormatJSON: sceneJSON,
		scene.FormatTOML: sceneTOML,
		scene.FormatYAML: sceneYAML,
	} {
		t.Run(f.String(), func(t *testing.T) {
			s, err := scene.Load(strings.NewReader(text), f)
			require.NoError(t, err)
			checkLoaded(t, s)

			var buf bytes.Buffer
			require.NoError(t, s.Save(&buf, f))
			again, err := scene.Load(&buf, f)
			require.NoError(t, err)
			checkLoaded(t, again)
		})
	}
}

func TestFileFormatFollowsExtension(t *testing.T) {
	assert.Equal(t, scene.FormatYAML, scene.FormatFromPath("levels/one.YML"))
	assert.Equal(t, scene.FormatUnknown, scene.FormatFromPath("one.scene"))

	_, err := scene.Load(strings.NewReader("{}"), scene.FormatUnknown)
	assert.ErrorIs(t, err, scene.ErrUnknownFormat)

	s, err := scene.Load(strings.NewReader(sceneJSON), scene.FormatJSON)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "level.toml")
	require.NoError(t, s.SaveFile(path))
	loaded, err := scene.LoadFile(path)
	require.NoError(t, err)
	checkLoaded(t, loaded)

	_, err = scene.LoadFile("level.txt")
	assert.ErrorIs(t, err, scene.ErrUnknownFormat)
}

func TestCollectDrawsReadyObjectsOnly(t *testing.T) {
	dir := t.TempDir()
	save := func(path string, a *asset.Asset, err error) {
		require.NoError(t, err)
		require.NoError(t, asset.SaveToFile(filepath.Join(dir, path), a))
	}
	shader, err := asset.PackShader(asset.ShaderInfo{ShaderType: gfx.FragmentShader}, make([]byte, 64), asset.CompressionNone)
	save("s1.obsshad", shader, err)
	mesh, err := asset.PackMesh(asset.MeshInfo{
		VertexCount: 3, VertexBufferSize: 36, IndexCount: 3, IndexBufferSizes: []uint64{12},
	}, make([]byte, 48), asset.CompressionNone)
	save("cube.obsmesh", mesh, err)
	mat, err := asset.PackMaterial(asset.MaterialInfo{
		MaterialType: gfx.Unlit,
		Shader:       "s1.obsshad",
		Transparent:  true,
		Unlit:        &asset.UnlitData{Color: glm.Vec4{1, 0, 0, 0.5}},
	})
	save("glass.obsmat", mat, err)

	dev := headless.New()
	defer dev.Destroy()
	mgr := resource.NewManager(asset.NewDirSource(dir), dev, nil)
	defer mgr.Close()
	exec := task.NewExecutor()
	require.NoError(t, exec.Run(
		task.QueueConfig{Type: task.General, Threads: 2},
		task.QueueConfig{Type: task.Upload, Threads: 1},
	))
	defer exec.Shutdown()
	loader := resource.NewLoader(exec, mgr)
	defer loader.Close()

	s := &scene.Scene{Objects: []*scene.GameObject{
		{Name: "glass", Mesh: "cube.obsmesh", Materials: []string{"glass.obsmat"}},
		{Name: "broken", Mesh: "cube.obsmesh", Materials: []string{"missing.obsmat"}},
		{Name: "empty"},
	}}

	assert.Empty(t, s.Collect(mgr, loader))
	assert.GreaterOrEqual(t, loader.Stats().Requested, 3)

	var draws []gfx.DrawCall
	require.Eventually(t, func() bool {
		draws = s.Collect(mgr, loader)
		return len(draws) == 1
	}, 5*time.Second, time.Millisecond)

	dc := draws[0]
	assert.Equal(t, mgr.Get("cube.obsmesh").ID(), dc.Mesh)
	assert.Equal(t, []gfx.ResourceID{mgr.Get("glass.obsmat").ID()}, dc.Materials)
	assert.True(t, dc.Transparent)
	missing := mgr.Get("missing.obsmat")
	require.Eventually(t, func() bool { return missing.State() == resource.Failed }, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, missing.Err(), asset.ErrNotFound)
	assert.Empty(t, dev.Violations())
}
