// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements gfx.Device on top of Vulkan.
package vkr

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

// package errors
var (
	ErrNoDevice      = errors.New("no suitable vulkan device")
	ErrNoQueue       = errors.New("no queue family with graphics and present support")
	ErrNoMemoryType  = errors.New("suitable memory type not found")
	ErrNoVertexStage = errors.New("material without vertex shader and no default vertex shader")
)

// Config is used to configure the device.
type Config struct {
	// Extent is the initial size of the presentation surface.
	Extent gfx.Extent2D

	// SwapchainSize is the number of swapchain images requested.
	SwapchainSize uint32

	// DeviceIndex selects the physical device.
	DeviceIndex int

	// ShaderDirectory holds the compiled default shaders,
	// default.vert.spv and shadow.vert.spv.
	ShaderDirectory string

	// ShadowMapSize is the width and height of the shadow map.
	ShadowMapSize uint32

	// MaxMaterials bounds the number of live materials.
	MaxMaterials uint32
}

// DefaultConfig returns the configuration used for zero values.
func DefaultConfig() Config {
	return Config{
		Extent:        gfx.Extent2D{Width: 800, Height: 600},
		SwapchainSize: 3,
		ShadowMapSize: 2048,
		MaxMaterials:  1024,
	}
}

// Option configures the Device.
type Option func(*Device)

// WithLogger sets the logger, defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Device) {
		d.log = l
	}
}

func check(call string, res vk.Result) error {
	switch res {
	case vk.Success:
		return nil
	case vk.ErrorDeviceLost:
		return fmt.Errorf("%s: %w", call, gfx.ErrDeviceLost)
	case vk.ErrorOutOfDate:
		return fmt.Errorf("%s: %w", call, gfx.ErrOutOfDate)
	}
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("%s: %s", call, err)
	}
	return nil
}

func safeString(s string) string {
	return fmt.Sprintf("%s\x00", s)
}

func safeStrings(sgs []string) []string {
	safe := make([]string, 0, len(sgs))
	for _, s := range sgs {
		safe = append(safe, safeString(s))
	}
	return safe
}

// sliceUint32 reslices SPIR-V bytes into words.
func sliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}
