// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"time"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
)

// EventKind identifies a logged device event.
type EventKind int

// Device events
const (
	EventUpload EventKind = iota
	EventRelease
	EventFenceWait
	EventAcquire
	EventUniformWrite
	EventDraw
	EventSubmit
	EventComplete
	EventPresent
	EventResize
	EventIdle
)

func (k EventKind) String() string {
	return [...]string{
		"upload", "release", "fence-wait", "acquire", "uniform-write",
		"draw", "submit", "complete", "present", "resize", "idle",
	}[k]
}

// Event is an entry in the device log. Seq counts the uses of a frame
// slot for slot events and submissions for submit/complete events.
type Event struct {
	Kind        EventKind
	Time        time.Time
	Slot        int
	Seq         uint64
	Resource    gfx.ResourceID
	Name        string
	Pass        gfx.Pass
	Transparent bool
	Position    glm.Vec3
	Draws       int
	Extent      gfx.Extent2D
}

// ViolationKind identifies a hazard.
type ViolationKind int

// Hazards detected by the device
const (
	ViolationReleasedResource ViolationKind = iota
	ViolationUnknownResource
	ViolationUniformInFlight
	ViolationDoubleRelease
	ViolationUnknownRelease
	ViolationResizeInFlight
	ViolationDestroyInFlight
)

func (k ViolationKind) String() string {
	return [...]string{
		"released-resource", "unknown-resource", "uniform-in-flight",
		"double-release", "unknown-release", "resize-in-flight", "destroy-in-flight",
	}[k]
}

// Violation is a synchronization or lifetime hazard.
type Violation struct {
	Kind     ViolationKind
	Resource gfx.ResourceID
	Message  string
}

// Filter returns the events of the given kinds, in log order.
func Filter(events []Event, kinds ...EventKind) []Event {
	var out []Event
	for _, e := range events {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
