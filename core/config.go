// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/gobuffalo/envy"
	"github.com/gobuffalo/packr"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
)

// Defaults holds the packed default configuration.
var Defaults = packr.NewBox("./defaults")

const defaultsFile = "defaults.env"

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time      TimeConfiguration
	Renderer  RendererConfiguration
	Tasks     TaskConfiguration
	Resources ResourceConfiguration
	Storage   StorageConfiguration
	Log       LogConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the window event polling interval
	EventPollDelay time.Duration
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	SwapchainSize   uint32
	DeviceIndex     int
	ShaderDirectory string
	DebugMode       bool

	ScreenWidth  uint32
	ScreenHeight uint32

	FrameOverlap int
	FenceTimeout time.Duration
	Shadows      bool
}

// TaskConfiguration sizes the executor queues.
type TaskConfiguration struct {
	GeneralThreads int
	UploadThreads  int
}

// ResourceConfiguration configures loading of runtime resources.
type ResourceConfiguration struct {
	StaleThreshold    int
	MemoryLimitBytes  int64
	UploadBytesPerSec int64
	HotReload         bool
	SettleDelay       time.Duration
}

// StorageConfiguration selects where assets are read from. The first
// of Object, Archive and Directory that is set wins.
type StorageConfiguration struct {
	Directory string
	Archive   string
	Object    asset.ObjectConfig
}

// LogConfiguration configures the logger.
type LogConfiguration struct {
	Level  string
	Format string
}

// Logger builds a logger from the configuration.
func (c LogConfiguration) Logger() (*logrus.Logger, error) {
	l := logrus.New()
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(level)
	switch strings.ToLower(c.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return l, nil
}

// LoadConfiguration reads the packed defaults, then every given .env
// file in order, and finally the process environment. Later sources
// override earlier ones.
func LoadConfiguration(files ...string) (Configuration, error) {
	packed, err := Defaults.FindString(defaultsFile)
	if err != nil {
		return Configuration{}, fmt.Errorf("packed defaults: %w", err)
	}
	values, err := godotenv.Unmarshal(packed)
	if err != nil {
		return Configuration{}, fmt.Errorf("packed defaults: %w", err)
	}

	for _, f := range files {
		path, err := homedir.Expand(f)
		if err != nil {
			return Configuration{}, err
		}
		fv, err := godotenv.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Configuration{}, fmt.Errorf("%s: %w", f, err)
		}
		for k, v := range fv {
			values[k] = v
		}
	}

	p := &parser{values: values}
	cfg := Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: p.int("OBSIDIAN_FPS"),
			EventPollDelay:  p.duration("OBSIDIAN_EVENT_POLL_DELAY"),
		},
		Renderer: RendererConfiguration{
			SwapchainSize:   uint32(p.int("OBSIDIAN_SWAPCHAIN_SIZE")),
			DeviceIndex:     p.int("OBSIDIAN_DEVICE"),
			ShaderDirectory: p.path("OBSIDIAN_SHADER_DIR"),
			DebugMode:       p.bool("OBSIDIAN_DEBUG"),
			ScreenWidth:     uint32(p.int("OBSIDIAN_WIDTH")),
			ScreenHeight:    uint32(p.int("OBSIDIAN_HEIGHT")),
			FrameOverlap:    p.int("OBSIDIAN_FRAME_OVERLAP"),
			FenceTimeout:    p.duration("OBSIDIAN_FENCE_TIMEOUT"),
			Shadows:         p.bool("OBSIDIAN_SHADOWS"),
		},
		Tasks: TaskConfiguration{
			GeneralThreads: p.int("OBSIDIAN_GENERAL_THREADS"),
			UploadThreads:  p.int("OBSIDIAN_UPLOAD_THREADS"),
		},
		Resources: ResourceConfiguration{
			StaleThreshold:    p.int("OBSIDIAN_STALE_THRESHOLD"),
			MemoryLimitBytes:  int64(p.int("OBSIDIAN_MEMORY_LIMIT")),
			UploadBytesPerSec: int64(p.int("OBSIDIAN_UPLOAD_RATE")),
			HotReload:         p.bool("OBSIDIAN_HOT_RELOAD"),
			SettleDelay:       p.duration("OBSIDIAN_SETTLE_DELAY"),
		},
		Storage: StorageConfiguration{
			Directory: p.path("OBSIDIAN_ASSET_DIR"),
			Archive:   p.path("OBSIDIAN_ASSET_ARCHIVE"),
			Object: asset.ObjectConfig{
				Endpoint:  p.string("OBSIDIAN_S3_ENDPOINT"),
				AccessKey: p.string("OBSIDIAN_S3_ACCESS_KEY"),
				SecretKey: p.string("OBSIDIAN_S3_SECRET_KEY"),
				Bucket:    p.string("OBSIDIAN_S3_BUCKET"),
				Prefix:    p.string("OBSIDIAN_S3_PREFIX"),
				Secure:    p.bool("OBSIDIAN_S3_SECURE"),
			},
		},
		Log: LogConfiguration{
			Level:  p.string("OBSIDIAN_LOG_LEVEL"),
			Format: p.string("OBSIDIAN_LOG_FORMAT"),
		},
	}
	if p.err != nil {
		return Configuration{}, p.err
	}
	return cfg, nil
}

// parser reads typed values, the environment wins over the file values.
// The first error sticks.
type parser struct {
	values map[string]string
	err    error
}

func (p *parser) string(key string) string {
	return envy.Get(key, p.values[key])
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q: %w", key, value, err)
	}
}

func (p *parser) int(key string) int {
	s := p.string(key)
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return v
}

func (p *parser) bool(key string) bool {
	s := p.string(key)
	if s == "" {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return v
}

func (p *parser) duration(key string) time.Duration {
	s := p.string(key)
	if s == "" {
		return 0
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return v
}

func (p *parser) path(key string) string {
	s := p.string(key)
	if s == "" {
		return ""
	}
	v, err := homedir.Expand(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return v
}
