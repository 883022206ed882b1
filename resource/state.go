// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"errors"
	"fmt"
)

// package errors
var (
	ErrDependencyFailed = errors.New("dependency failed")
	ErrDependencyCycle  = errors.New("dependency cycle")
	ErrReleased         = errors.New("resource released")
	ErrUnknownType      = errors.New("unknown asset type")
)

// State is a stage of the resource lifecycle.
type State int32

// Resource states, in lifecycle order
const (
	Unloaded State = iota
	AssetLoading
	AssetLoaded
	GPUUploading
	GPUReady
	Released
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case AssetLoading:
		return "asset-loading"
	case AssetLoaded:
		return "asset-loaded"
	case GPUUploading:
		return "gpu-uploading"
	case GPUReady:
		return "gpu-ready"
	case Released:
		return "released"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no transition leaves s, apart from releasing
// a failed resource.
func (s State) Terminal() bool {
	return s == Released || s == Failed
}

// allowed lists the legal transitions. Released is reachable from every
// other state.
var allowed = map[State][]State{
	Unloaded:     {AssetLoading},
	AssetLoading: {AssetLoaded, Failed},
	AssetLoaded:  {GPUUploading, Failed},
	GPUUploading: {GPUReady, Failed},
}

func legal(from, to State) bool {
	if to == Released {
		return from != Released
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
