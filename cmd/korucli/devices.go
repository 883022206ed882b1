// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"

	"github.com/Zubo/obsidian-engine-sub000/gfx/vkr"
)

func runDevices(args []string, out *printer) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	debug := fs.Bool("vkdbg", false, "Load Vulkan validation layers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	inst, err := vkr.NewInstance(nil, vkr.InstanceConfig{
		AppName:   "obsidian command line",
		DebugMode: *debug,
	})
	if err != nil {
		return err
	}
	defer inst.Destroy()

	bytes, err := json.MarshalIndent(inst.PhysicalDevicesInfo(), "", "  ")
	if err != nil {
		return err
	}
	_, err = out.out.Write(append(bytes, '\n'))
	return err
}
