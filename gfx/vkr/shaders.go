// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	vk "github.com/devblok/vulkan"
)

const shaderSuffix = ".spv"

// loadShaderFiles reads the compiled shaders of dir keyed by name. File
// names have exactly two dots, name.type.spv, where type is vert or frag.
// Anything else is skipped. An empty dir loads nothing.
func loadShaderFiles(dir string) (vertex, fragment map[string][]byte, err error) {
	vertex = make(map[string][]byte)
	fragment = make(map[string][]byte)
	if dir == "" {
		return vertex, fragment, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read shader directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), shaderSuffix) {
			continue
		}
		nodes := strings.Split(strings.TrimSuffix(e.Name(), shaderSuffix), ".")
		if len(nodes) != 2 {
			continue
		}

		var dst map[string][]byte
		switch nodes[1] {
		case "vert":
			dst = vertex
		case "frag":
			dst = fragment
		default:
			continue
		}
		code, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, nil, err
		}
		if len(code) == 0 || len(code)%4 != 0 {
			return nil, nil, fmt.Errorf("shader %s: size %d is not a SPIR-V word multiple", e.Name(), len(code))
		}
		dst[nodes[0]] = code
	}
	return vertex, fragment, nil
}

func (d *Device) createShaderModule(code []byte) (vk.ShaderModule, error) {
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}
	var module vk.ShaderModule
	if err := check("vk.CreateShaderModule()", vk.CreateShaderModule(d.device, &smci, nil, &module)); err != nil {
		return nil, err
	}
	return module, nil
}
