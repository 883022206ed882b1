// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"unsafe"

	vk "github.com/devblok/vulkan"
)

// InstanceConfig configures the Vulkan instance.
type InstanceConfig struct {
	AppName    string
	Extensions []string
	Layers     []string
	DebugMode  bool
}

// PhysicalDeviceInfo describes a physical device.
type PhysicalDeviceInfo struct {
	ID            int      `json:"id"`
	VendorID      int      `json:"vendorId"`
	Name          string   `json:"name"`
	DriverVersion int      `json:"driverVersion"`
	Memory        uint64   `json:"memory"`
	Extensions    []string `json:"extensions"`
	Layers        []string `json:"layers"`
	Invalid       bool     `json:"invalid,omitempty"`
}

// Instance is a Vulkan instance, with the surface to present to once
// it is set.
type Instance struct {
	cfg      InstanceConfig
	instance vk.Instance
	surface  vk.Surface
	devices  []vk.PhysicalDevice
}

// NewInstance creates a Vulkan instance. procAddr is the instance proc
// address of the windowing library, nil loads the system loader.
func NewInstance(procAddr unsafe.Pointer, cfg InstanceConfig) (*Instance, error) {
	if cfg.DebugMode {
		cfg.Layers = append(cfg.Layers, "VK_LAYER_KHRONOS_validation")
		cfg.Extensions = append(cfg.Extensions, "VK_EXT_debug_report")
	}
	if cfg.AppName == "" {
		cfg.AppName = "obsidian"
	}

	if procAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, fmt.Errorf("vk.SetDefaultGetInstanceProcAddr(): %s", err)
		}
	} else {
		vk.SetGetInstanceProcAddr(procAddr)
	}
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("vk.Init(): %s", err)
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         vk.MakeVersion(1, 0, 0),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PApplicationName:   safeString(cfg.AppName),
		PEngineName:        safeString("obsidian"),
	}
	ici := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(cfg.Extensions)),
		PpEnabledExtensionNames: safeStrings(cfg.Extensions),
		EnabledLayerCount:       uint32(len(cfg.Layers)),
		PpEnabledLayerNames:     safeStrings(cfg.Layers),
	}
	var instance vk.Instance
	if err := check("vk.CreateInstance()", vk.CreateInstance(&ici, nil, &instance)); err != nil {
		return nil, err
	}
	vk.InitInstance(instance)

	devices, err := enumerateDevices(instance)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}
	return &Instance{
		cfg:      cfg,
		instance: instance,
		devices:  devices,
	}, nil
}

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var count uint32
	if err := check("vk.EnumeratePhysicalDevices()", vk.EnumeratePhysicalDevices(instance, &count, nil)); err != nil {
		return nil, err
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check("vk.EnumeratePhysicalDevices()", vk.EnumeratePhysicalDevices(instance, &count, devices)); err != nil {
		return nil, err
	}
	return devices, nil
}

// PhysicalDevicesInfo describes every physical device.
func (i *Instance) PhysicalDevicesInfo() []PhysicalDeviceInfo {
	pdi := make([]PhysicalDeviceInfo, len(i.devices))
	for idx, dev := range i.devices {
		info := &pdi[idx]

		var numExt uint32
		if vk.EnumerateDeviceExtensionProperties(dev, "", &numExt, nil) != vk.Success {
			info.Invalid = true
		}
		exts := make([]vk.ExtensionProperties, numExt)
		if vk.EnumerateDeviceExtensionProperties(dev, "", &numExt, exts) != vk.Success {
			info.Invalid = true
		}
		for _, ext := range exts {
			ext.Deref()
			info.Extensions = append(info.Extensions, vk.ToString(ext.ExtensionName[:]))
		}

		var numLayers uint32
		if vk.EnumerateDeviceLayerProperties(dev, &numLayers, nil) != vk.Success {
			info.Invalid = true
		}
		layers := make([]vk.LayerProperties, numLayers)
		if vk.EnumerateDeviceLayerProperties(dev, &numLayers, layers) != vk.Success {
			info.Invalid = true
		}
		for _, layer := range layers {
			layer.Deref()
			info.Layers = append(info.Layers, vk.ToString(layer.LayerName[:]))
		}

		var mem vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(dev, &mem)
		mem.Deref()
		for h := uint32(0); h < mem.MemoryHeapCount; h++ {
			mem.MemoryHeaps[h].Deref()
			info.Memory += uint64(mem.MemoryHeaps[h].Size)
		}

		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(dev, &props)
		props.Deref()
		info.ID = int(props.DeviceID)
		info.VendorID = int(props.VendorID)
		info.Name = vk.ToString(props.DeviceName[:])
		info.DriverVersion = int(props.DriverVersion)
	}
	return pdi
}

// SetSurface sets the window surface to present to.
func (i *Instance) SetSurface(surface unsafe.Pointer) {
	i.surface = vk.SurfaceFromPointer(uintptr(surface))
}

// Surface returns the window surface or a null surface.
func (i *Instance) Surface() vk.Surface {
	if i.surface == nil {
		return vk.NullSurface
	}
	return i.surface
}

// Handle returns the vk.Instance, as windowing libraries want it.
func (i *Instance) Handle() interface{} {
	return i.instance
}

// Extensions returns the enabled instance extensions.
func (i *Instance) Extensions() []string {
	return i.cfg.Extensions
}

// Destroy destroys the surface and the instance.
func (i *Instance) Destroy() {
	if i.surface != nil {
		vk.DestroySurface(i.instance, i.surface, nil)
		i.surface = nil
	}
	vk.DestroyInstance(i.instance, nil)
	i.devices = nil
}
