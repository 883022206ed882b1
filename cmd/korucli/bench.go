// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"flag"
	"strings"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/core"
	"github.com/Zubo/obsidian-engine-sub000/gfx/headless"
)

func runBench(args []string, out *printer) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	envFile := fs.String("env", ".env", "Configuration file, overridden by the environment")
	sceneFile := fs.String("scene", "", "Scene to render")
	assets := fs.String("assets", "", "Asset directory or .kar archive, overrides the configuration")
	frames := fs.Int("frames", 1000, "Frames to render")
	latency := fs.Duration("latency", time.Millisecond, "Simulated GPU time per submission")
	timeout := fs.Duration("timeout", time.Minute, "Time allowed for loading the scene")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sceneFile == "" {
		return errors.New("bench needs a -scene")
	}

	cfg, err := core.LoadConfiguration(*envFile)
	if err != nil {
		return err
	}
	if *assets != "" {
		cfg.Storage = core.StorageConfiguration{Directory: *assets}
		if strings.HasSuffix(*assets, ".kar") {
			cfg.Storage = core.StorageConfiguration{Archive: *assets}
		}
	}
	cfg.Resources.HotReload = false
	log, err := cfg.Log.Logger()
	if err != nil {
		return err
	}

	dev := headless.New(headless.WithLatency(*latency), headless.WithLogger(log))
	defer dev.Destroy()
	src, err := core.OpenSource(cfg.Storage)
	if err != nil {
		return err
	}
	engine, err := core.NewEngine(cfg, dev, src, core.WithLogger(log))
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	start := time.Now()
	if err := engine.LoadSceneFile(*sceneFile); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	failed, err := engine.WaitLoaded(ctx)
	if err != nil {
		return err
	}
	loaded := time.Since(start)

	start = time.Now()
	for i := 0; i < *frames; i++ {
		if err := engine.Frame(); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	stats := engine.Renderer().Stats()
	out.title("%s", *sceneFile)
	out.field("load", loaded)
	out.field("failed", failed)
	out.field("frames", stats.Frames)
	out.field("skipped", stats.Skipped)
	out.field("draws", stats.Draws)
	out.field("frame time", elapsed/time.Duration(max(*frames, 1)))
	out.field("device", dev.Stats())
	if v := dev.Violations(); len(v) > 0 {
		log.WithField("violations", v).Warn("device misuse detected")
	}
	log.WithField("resources", engine.Manager().Count()).Debug("bench finished")
	return nil
}
