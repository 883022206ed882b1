// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource tracks the lifecycle of assets from storage to the
// device. The Manager owns one Resource per asset path, the Loader
// schedules asset loads and device uploads in dependency order.
package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/internal/budget"
	"github.com/sirupsen/logrus"
)

// Releaser postpones freeing a device resource until no frame in
// flight can reference it. It is implemented by the renderer.
type Releaser interface {
	DeferRelease(fn func())
}

// Listener is notified of every state transition. Listeners are called
// on the goroutine doing the transition and must not block.
type Listener func(r *Resource, from, to State)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger, defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithBudget bounds payload memory and upload bandwidth.
func WithBudget(c *budget.Controller) Option {
	return func(m *Manager) {
		m.budget = c
	}
}

// NewManager creates a Manager reading assets from src and uploading
// them to dev. Released device resources go through rel, a nil rel
// frees them immediately.
func NewManager(src asset.Source, dev gfx.Device, rel Releaser, opts ...Option) *Manager {
	m := &Manager{
		src:       src,
		dev:       dev,
		releaser:  rel,
		log:       logrus.StandardLogger(),
		resources: make(map[string]*Resource),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Manager is the path to Resource table. It is safe for concurrent use.
type Manager struct {
	src      asset.Source
	dev      gfx.Device
	releaser Releaser
	log      logrus.FieldLogger
	budget   *budget.Controller

	mutex     sync.RWMutex
	resources map[string]*Resource

	listenMutex  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// Get returns the Resource of path, creating it if needed. Every
// spelling of the same path returns the same Resource.
func (m *Manager) Get(path string) *Resource {
	path = asset.CleanPath(path)

	m.mutex.RLock()
	r, ok := m.resources[path]
	m.mutex.RUnlock()
	if ok {
		return r
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if r, ok := m.resources[path]; ok {
		return r
	}
	r = newResource(path, m)
	m.resources[path] = r
	return r
}

// Lookup returns the Resource of path, or nil if there is none.
func (m *Manager) Lookup(path string) *Resource {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.resources[asset.CleanPath(path)]
}

// Len returns the number of resources in the table.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.resources)
}

// Paths returns every path in the table, sorted.
func (m *Manager) Paths() []string {
	m.mutex.RLock()
	paths := make([]string, 0, len(m.resources))
	for p := range m.resources {
		paths = append(paths, p)
	}
	m.mutex.RUnlock()
	sort.Strings(paths)
	return paths
}

// Count returns how many resources are in each state.
func (m *Manager) Count() map[State]int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	counts := make(map[State]int)
	for _, r := range m.resources {
		counts[r.State()]++
	}
	return counts
}

// Subscribe registers a transition listener. The returned function
// removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	m.listenMutex.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenMutex.Unlock()

	return func() {
		m.listenMutex.Lock()
		delete(m.listeners, id)
		m.listenMutex.Unlock()
	}
}

func (m *Manager) publish(r *Resource, from, to State) {
	m.listenMutex.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenMutex.RUnlock()

	m.log.WithFields(logrus.Fields{
		"path": r.path,
		"from": from,
		"to":   to,
	}).Debug("resource transition")
	for _, fn := range listeners {
		fn(r, from, to)
	}
}

// Acquire returns the Resource of path, creating it if needed, with a
// reference taken on it.
func (m *Manager) Acquire(path string) *Resource {
	path = asset.CleanPath(path)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.resources[path]
	if !ok {
		r = newResource(path, m)
		m.resources[path] = r
	}
	return r.Acquire()
}

// Unref drops a reference on the current Resource of path. Dropping the
// last one evicts and releases it. References follow a path across
// reloads, so holders of a path should use Unref instead of keeping the
// Resource returned by Acquire.
func (m *Manager) Unref(path string) {
	m.mutex.Lock()
	r, ok := m.resources[asset.CleanPath(path)]
	if !ok {
		m.mutex.Unlock()
		return
	}
	var evicted []*Resource
	if r.drop() {
		evicted = m.collect(r)
	}
	m.mutex.Unlock()

	releaseAll(evicted)
}

// Evict removes path and every resource depending on it, directly or
// not, from the table and releases them. It returns the evicted paths.
func (m *Manager) Evict(path string) []string {
	r := m.Lookup(path)
	if r == nil {
		return nil
	}
	return m.evict(r)
}

func (m *Manager) evict(r *Resource) []string {
	m.mutex.Lock()
	evicted := m.collect(r)
	m.mutex.Unlock()

	if len(evicted) == 0 {
		// not in the table anymore, make sure it is released anyway
		r.release()
		return nil
	}
	return releaseAll(evicted)
}

// Reload evicts path and everything depending on it like Evict, and puts
// a fresh Unloaded Resource in place of each. References held from
// outside the evicted set move to the replacements. The replacements are
// returned for the caller to request.
func (m *Manager) Reload(path string) []*Resource {
	m.mutex.Lock()
	r, ok := m.resources[asset.CleanPath(path)]
	if !ok {
		m.mutex.Unlock()
		return nil
	}
	evicted := m.collect(r)
	fresh := make([]*Resource, 0, len(evicted))
	for _, old := range evicted {
		// dependents are evicted too, their references die with them
		refs := old.Refs()
		for _, d := range evicted {
			if d.holds(old) {
				refs--
			}
		}
		n := newResource(old.path, m)
		if refs > 0 {
			n.refs = int32(refs)
		}
		m.resources[n.path] = n
		fresh = append(fresh, n)
	}
	m.mutex.Unlock()

	releaseAll(evicted)
	return fresh
}

// collect removes r and its transitive dependents from the table and
// returns them. The mutex must be held.
func (m *Manager) collect(r *Resource) []*Resource {
	var evicted []*Resource
	queue := []*Resource{r}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if m.resources[cur.path] != cur {
			continue
		}
		delete(m.resources, cur.path)
		evicted = append(evicted, cur)
		for _, other := range m.resources {
			for _, dep := range other.Dependencies() {
				if dep == cur.path {
					queue = append(queue, other)
					break
				}
			}
		}
	}
	return evicted
}

func releaseAll(evicted []*Resource) []string {
	paths := make([]string, 0, len(evicted))
	for _, e := range evicted {
		e.release()
		paths = append(paths, e.path)
	}
	return paths
}

// Close releases every resource and empties the table.
func (m *Manager) Close() {
	m.mutex.Lock()
	all := make([]*Resource, 0, len(m.resources))
	for _, r := range m.resources {
		all = append(all, r)
	}
	m.resources = make(map[string]*Resource)
	m.mutex.Unlock()

	for _, r := range all {
		r.release()
	}
}

func (m *Manager) releaseDevice(kind asset.Type, id gfx.ResourceID) {
	fn := func() {
		switch kind {
		case asset.Mesh:
			m.dev.ReleaseMesh(id)
		case asset.Texture:
			m.dev.ReleaseTexture(id)
		case asset.Shader:
			m.dev.ReleaseShader(id)
		case asset.Material:
			m.dev.ReleaseMaterial(id)
		}
	}
	if m.releaser == nil {
		fn()
		return
	}
	m.releaser.DeferRelease(fn)
}

// uploadDevice builds the device description of a and uploads it.
func (m *Manager) uploadDevice(ctx context.Context, path string, kind asset.Type, a *asset.Asset) (gfx.ResourceID, error) {
	switch kind {
	case asset.Mesh:
		info, err := asset.ReadMeshInfo(a)
		if err != nil {
			return gfx.InvalidID, err
		}
		if err := m.budget.WaitUpload(ctx, int64(info.UnpackedSize)); err != nil {
			return gfx.InvalidID, err
		}
		return m.dev.UploadMesh(gfx.UploadMesh{
			VertexCount:      info.VertexCount,
			VertexBufferSize: info.VertexBufferSize,
			IndexCount:       info.IndexCount,
			IndexBufferSizes: info.IndexBufferSizes,
			AABB:             gfx.Box3D{TopCorner: info.AABB.TopRight, BottomCorner: info.AABB.BottomLeft},
			HasNormals:       info.HasNormals,
			HasColors:        info.HasColors,
			HasUV:            info.HasUV,
			HasTangents:      info.HasTangents,
			Unpack:           unpacker(info.Info, a.Blob),
			DebugName:        path,
		})
	case asset.Texture:
		info, err := asset.ReadTextureInfo(a)
		if err != nil {
			return gfx.InvalidID, err
		}
		if err := m.budget.WaitUpload(ctx, int64(info.UnpackedSize)); err != nil {
			return gfx.InvalidID, err
		}
		return m.dev.UploadTexture(gfx.UploadTexture{
			Format:    info.Format,
			Width:     info.Width,
			Height:    info.Height,
			MipLevels: 1,
			Unpack:    unpacker(info.Info, a.Blob),
			DebugName: path,
		})
	case asset.Shader:
		info, err := asset.ReadShaderInfo(a)
		if err != nil {
			return gfx.InvalidID, err
		}
		if err := m.budget.WaitUpload(ctx, int64(info.UnpackedSize)); err != nil {
			return gfx.InvalidID, err
		}
		return m.dev.UploadShader(gfx.UploadShader{
			Type:      info.ShaderType,
			Size:      info.UnpackedSize,
			Unpack:    unpacker(info.Info, a.Blob),
			DebugName: path,
		})
	case asset.Material:
		info, err := asset.ReadMaterialInfo(a)
		if err != nil {
			return gfx.InvalidID, err
		}
		desc, err := m.materialDescription(path, info)
		if err != nil {
			return gfx.InvalidID, err
		}
		return m.dev.UploadMaterial(desc)
	}
	return gfx.InvalidID, fmt.Errorf("%s: %w", path, ErrUnknownType)
}

func unpacker(info asset.Info, blob []byte) gfx.UnpackFunc {
	return func(dst []byte) error {
		return asset.Unpack(info, blob, dst)
	}
}

func (m *Manager) materialDescription(path string, info asset.MaterialInfo) (gfx.UploadMaterial, error) {
	var missing error
	id := func(p string) gfx.ResourceID {
		if p == "" {
			return gfx.InvalidID
		}
		r := m.Lookup(p)
		if r == nil || !r.Ready() {
			missing = fmt.Errorf("%s: %w", p, ErrDependencyFailed)
			return gfx.InvalidID
		}
		return r.ID()
	}

	desc := gfx.UploadMaterial{
		Type:           info.MaterialType,
		FragmentShader: id(info.Shader),
		VertexShader:   id(info.VertexShader),
		Transparent:    info.Transparent,
		DebugName:      path,
	}
	if info.Lit != nil {
		desc.Lit = &gfx.LitMaterial{
			DiffuseTexture: id(info.Lit.DiffuseTex),
			NormalTexture:  id(info.Lit.NormalMapTex),
			AmbientColor:   info.Lit.AmbientColor,
			DiffuseColor:   info.Lit.DiffuseColor,
			SpecularColor:  info.Lit.SpecularColor,
			Shininess:      info.Lit.Shininess,
		}
	}
	if info.Unlit != nil {
		desc.Unlit = &gfx.UnlitMaterial{
			Color:        info.Unlit.Color,
			ColorTexture: id(info.Unlit.ColorTex),
		}
	}
	return desc, missing
}
