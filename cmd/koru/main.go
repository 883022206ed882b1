// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/core"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/gfx/vkr"
	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

// Profiling
var (
	cpuProfile   = flag.String("cpuprof", "", "Profile CPU usage to file")
	memProfile   = flag.String("memprof", "", "Profile memory usage into a file")
	traceProfile = flag.String("trace", "", "Trace output for profiling")
	debug        = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
)

var (
	envFile   = flag.String("env", "~/.obsidian.env", "Configuration file, overridden by the environment")
	sceneFile = flag.String("scene", "", "Scene to open (.json, .toml or .yaml)")
)

const cameraSpeed = 5.0

func newWindow(cfg core.RendererConfiguration) (*sdl.Window, error) {
	return sdl.CreateWindow("Obsidian",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
}

func main() {
	flag.Parse()

	cfg, err := core.LoadConfiguration(".env", *envFile)
	if err != nil {
		logrus.WithError(err).Fatal("configuration")
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		logrus.WithError(err).Fatal("logger")
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	if *traceProfile != "" {
		f, err := os.Create(*traceProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := trace.Start(f); err != nil {
			log.Fatal(err)
		}
		defer trace.Stop()
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("exited with error")
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
	}
}

func run(cfg core.Configuration, log *logrus.Logger) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return err
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return err
	}
	defer sdl.VulkanUnloadLibrary()

	window, err := newWindow(cfg.Renderer)
	if err != nil {
		return err
	}
	defer window.Destroy()

	inst, err := vkr.NewInstance(sdl.VulkanGetVkGetInstanceProcAddr(), vkr.InstanceConfig{
		AppName:    "obsidian viewer",
		Extensions: window.VulkanGetInstanceExtensions(),
		DebugMode:  *debug || cfg.Renderer.DebugMode,
	})
	if err != nil {
		return err
	}
	defer inst.Destroy()

	surface, err := window.VulkanCreateSurface(inst.Handle())
	if err != nil {
		return err
	}
	inst.SetSurface(surface)

	dev, err := vkr.NewDevice(inst, vkr.Config{
		Extent:          gfx.Extent2D{Width: cfg.Renderer.ScreenWidth, Height: cfg.Renderer.ScreenHeight},
		SwapchainSize:   cfg.Renderer.SwapchainSize,
		DeviceIndex:     cfg.Renderer.DeviceIndex,
		ShaderDirectory: cfg.Renderer.ShaderDirectory,
	}, vkr.WithLogger(log))
	if err != nil {
		return err
	}
	defer dev.Destroy()

	src, err := core.OpenSource(cfg.Storage)
	if err != nil {
		return err
	}
	engine, err := core.NewEngine(cfg, dev, src, core.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Shutdown(); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	if *sceneFile != "" {
		if err := engine.LoadSceneFile(*sceneFile); err != nil {
			return err
		}
	}

	timeService := core.NewTime(cfg.Time)
	defer timeService.Stop()
	stats := time.NewTicker(time.Second)
	defer stats.Stop()
	var frames int

	for {
		select {
		case <-stats.C:
			log.WithFields(logrus.Fields{
				"fps":      frames,
				"cgoCalls": runtime.NumCgoCall(),
			}).Debug("frame stats")
			frames = 0
		case <-timeService.EventTicker().C:
			if !pollEvents(engine) {
				return nil
			}
		case <-timeService.FpsTicker().C:
			moveCamera(engine, timeService.Delta())
			if err := engine.Frame(); err != nil {
				return err
			}
			frames++
		}
	}
}

// pollEvents drains the SDL event queue, false means quit.
func pollEvents(engine *core.Engine) bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch et := event.(type) {
		case *sdl.QuitEvent:
			return false
		case *sdl.KeyboardEvent:
			if et.Keysym.Sym == sdl.K_ESCAPE {
				return false
			}
		case *sdl.WindowEvent:
			if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				engine.UpdateExtent(gfx.Extent2D{Width: uint32(et.Data1), Height: uint32(et.Data2)})
			}
		case *sdl.MouseMotionEvent:
			if s := engine.Scene(); s != nil && et.State&sdl.Button(sdl.BUTTON_RIGHT) != 0 {
				s.Camera.Rotate(et.XRel, et.YRel)
			}
		}
	}
	return true
}

func moveCamera(engine *core.Engine, delta time.Duration) {
	s := engine.Scene()
	if s == nil {
		return
	}
	keys := sdl.GetKeyboardState()
	axis := func(pos, neg sdl.Scancode) float32 {
		var v float32
		if keys[pos] != 0 {
			v++
		}
		if keys[neg] != 0 {
			v--
		}
		return v * cameraSpeed * float32(delta.Seconds())
	}
	s.Camera.Move(
		axis(sdl.SCANCODE_W, sdl.SCANCODE_S),
		axis(sdl.SCANCODE_D, sdl.SCANCODE_A),
		axis(sdl.SCANCODE_E, sdl.SCANCODE_Q),
	)
}
