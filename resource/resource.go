// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/sirupsen/logrus"
)

// Resource is the runtime side of one asset path. It is created by the
// Manager and only ever advanced along the lifecycle by the Loader and
// the tasks it schedules.
type Resource struct {
	path string
	mgr  *Manager

	state int32
	refs  int32

	// mutex guards everything below
	mutex       sync.Mutex
	payload     *asset.Asset
	reserved    int64
	id          gfx.ResourceID
	kind        asset.Type
	deps        []string
	depRefs     []*Resource
	transparent bool
	err         error
}

func newResource(path string, mgr *Manager) *Resource {
	return &Resource{
		path: path,
		mgr:  mgr,
		id:   gfx.InvalidID,
		kind: asset.TypeFromPath(path),
	}
}

// Path returns the normalized asset path identifying the resource.
func (r *Resource) Path() string {
	return r.path
}

// State returns the current lifecycle state.
func (r *Resource) State() State {
	return State(atomic.LoadInt32(&r.state))
}

// Ready reports whether the device resource can be drawn with.
func (r *Resource) Ready() bool {
	return r.State() == GPUReady
}

// Err returns the reason a resource failed.
func (r *Resource) Err() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.err
}

// ID returns the device resource id, gfx.InvalidID unless the resource
// is ready.
func (r *Resource) ID() gfx.ResourceID {
	if !r.Ready() {
		return gfx.InvalidID
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.id
}

// Kind returns the asset type, guessed from the extension until the
// asset is loaded.
func (r *Resource) Kind() asset.Type {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.kind
}

// Dependencies returns the paths the resource needs uploaded before
// itself. They are known once the asset is loaded.
func (r *Resource) Dependencies() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	deps := make([]string, len(r.deps))
	copy(deps, r.deps)
	return deps
}

// Transparent reports whether a material blends with what is behind it.
func (r *Resource) Transparent() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.transparent
}

// Acquire takes a reference on the resource.
func (r *Resource) Acquire() *Resource {
	atomic.AddInt32(&r.refs, 1)
	return r
}

// Refs returns the number of references held.
func (r *Resource) Refs() int {
	return int(atomic.LoadInt32(&r.refs))
}

// Unref drops a reference. Dropping the last one releases the resource.
func (r *Resource) Unref() {
	if r.drop() {
		r.Release()
	}
}

// drop decrements the reference count and reports whether it reached zero.
func (r *Resource) drop() bool {
	n := atomic.AddInt32(&r.refs, -1)
	if n < 0 {
		atomic.AddInt32(&r.refs, 1)
		r.mgr.log.WithField("path", r.path).Warn("unref of unreferenced resource")
	}
	return n == 0
}

// Release evicts the resource, and everything depending on it, from
// the Manager. The device resource is freed once no frame in flight
// can use it.
func (r *Resource) Release() {
	r.mgr.evict(r)
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s (%s)", r.path, r.State())
}

// transition moves the resource from one state to another and notifies
// the Manager listeners. It fails if the resource is not in from.
func (r *Resource) transition(from, to State) bool {
	if !legal(from, to) {
		panic(fmt.Sprintf("resource %s: illegal transition %s -> %s", r.path, from, to))
	}
	if !atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to)) {
		return false
	}
	r.mgr.publish(r, from, to)
	return true
}

// fail moves a resource to Failed. The payload is dropped.
func (r *Resource) fail(from State, err error) {
	r.mutex.Lock()
	r.err = err
	r.mutex.Unlock()
	if r.transition(from, Failed) {
		r.mgr.log.WithFields(logrus.Fields{
			"path":  r.path,
			"state": from,
		}).WithError(err).Error("resource failed")
	}
	r.dropPayload()
}

func (r *Resource) dropPayload() {
	r.mutex.Lock()
	reserved := r.reserved
	r.payload = nil
	r.reserved = 0
	r.mutex.Unlock()
	r.mgr.budget.Release(reserved)
}

// holds reports whether r took a reference on d as a dependency.
func (r *Resource) holds(d *Resource) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, ref := range r.depRefs {
		if ref == d {
			return true
		}
	}
	return false
}

func (r *Resource) takeDepRefs() []*Resource {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	deps := r.depRefs
	r.depRefs = nil
	return deps
}

// release moves the resource to Released from any state. It reports
// whether this call did so.
func (r *Resource) release() bool {
	for {
		from := r.State()
		if from == Released {
			return false
		}
		if r.transition(from, Released) {
			break
		}
	}

	r.mutex.Lock()
	id, kind := r.id, r.kind
	r.id = gfx.InvalidID
	r.mutex.Unlock()

	r.dropPayload()
	if id.Valid() {
		r.mgr.releaseDevice(kind, id)
	}
	for _, d := range r.takeDepRefs() {
		d.Unref()
	}
	return true
}

// load reads the asset, validates its metadata and resolves its
// dependencies. request is called with every dependency before the
// resource becomes AssetLoaded.
func (r *Resource) load(ctx context.Context, request func(*Resource) bool) error {
	if r.State() != AssetLoading {
		return ErrReleased
	}
	m := r.mgr
	a, err := asset.Load(ctx, m.src, r.path)
	if err != nil {
		r.fail(AssetLoading, err)
		return err
	}

	var (
		deps        []string
		transparent bool
	)
	switch a.Type() {
	case asset.Mesh:
		_, err = asset.ReadMeshInfo(a)
	case asset.Texture:
		_, err = asset.ReadTextureInfo(a)
	case asset.Shader:
		_, err = asset.ReadShaderInfo(a)
	case asset.Material:
		var info asset.MaterialInfo
		info, err = asset.ReadMaterialInfo(a)
		deps = info.Dependencies()
		transparent = info.Transparent
	default:
		err = fmt.Errorf("%w: tag %q", ErrUnknownType, a.Tag[:])
	}
	if err != nil {
		r.fail(AssetLoading, err)
		return err
	}

	// Only resources without dependencies hold a reservation, they never
	// wait on anything but the upload queue.
	var reserved int64
	if len(deps) == 0 {
		if reserved, err = m.budget.Reserve(ctx, a.Size()); err != nil {
			r.fail(AssetLoading, err)
			return err
		}
	}

	depRefs := make([]*Resource, 0, len(deps))
	for idx, p := range deps {
		d := m.Acquire(p)
		deps[idx] = d.Path()
		depRefs = append(depRefs, d)
	}

	r.mutex.Lock()
	r.payload = a
	r.reserved = reserved
	r.kind = a.Type()
	r.deps = deps
	r.depRefs = depRefs
	r.transparent = transparent
	r.mutex.Unlock()

	for _, d := range depRefs {
		request(d)
	}

	if !r.transition(AssetLoading, AssetLoaded) {
		// released while loading
		r.dropPayload()
		for _, d := range r.takeDepRefs() {
			d.Unref()
		}
		return ErrReleased
	}
	return nil
}

// upload creates the device resource from the payload and frees the
// payload. Dependencies must be ready.
func (r *Resource) upload(ctx context.Context) error {
	m := r.mgr
	r.mutex.Lock()
	a, kind, deps := r.payload, r.kind, r.deps
	r.mutex.Unlock()
	if a == nil {
		return ErrReleased
	}

	for _, p := range deps {
		if d := m.Lookup(p); d == nil || !d.Ready() {
			err := fmt.Errorf("%s: %w", p, ErrDependencyFailed)
			r.fail(GPUUploading, err)
			return err
		}
	}

	id, err := m.uploadDevice(ctx, r.path, kind, a)
	if err != nil {
		r.fail(GPUUploading, err)
		return err
	}

	r.mutex.Lock()
	if r.State() != GPUUploading {
		r.mutex.Unlock()
		m.releaseDevice(kind, id)
		return ErrReleased
	}
	r.id = id
	r.mutex.Unlock()

	r.dropPayload()
	r.transition(GPUUploading, GPUReady)
	return nil
}
