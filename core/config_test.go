// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/core"
	"github.com/gobuffalo/envy"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackedDefaults(t *testing.T) {
	envy.Temp(func() {
		cfg, err := core.LoadConfiguration()
		require.NoError(t, err)

		assert.Equal(t, 2, cfg.Renderer.FrameOverlap)
		assert.Equal(t, 10*time.Second, cfg.Renderer.FenceTimeout)
		assert.True(t, cfg.Renderer.Shadows)
		assert.Equal(t, uint32(3), cfg.Renderer.SwapchainSize)
		assert.Equal(t, 4, cfg.Tasks.GeneralThreads)
		assert.Equal(t, 1, cfg.Tasks.UploadThreads)
		assert.Equal(t, int64(512<<20), cfg.Resources.MemoryLimitBytes)
		assert.Equal(t, 100*time.Millisecond, cfg.Resources.SettleDelay)
		assert.Equal(t, "assets", cfg.Storage.Directory)
		assert.Empty(t, cfg.Storage.Archive)
		assert.True(t, cfg.Storage.Object.Secure)
		assert.Equal(t, "info", cfg.Log.Level)
	})
}

func TestEnvironmentOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	require.NoError(t, os.WriteFile(first, []byte("OBSIDIAN_FRAME_OVERLAP=3\nOBSIDIAN_LOG_LEVEL=debug\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("OBSIDIAN_FRAME_OVERLAP=4\n"), 0o644))

	envy.Temp(func() {
		envy.Set("OBSIDIAN_LOG_LEVEL", "warn")
		cfg, err := core.LoadConfiguration(first, second, filepath.Join(dir, "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, 4, cfg.Renderer.FrameOverlap)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, 10*time.Second, cfg.Renderer.FenceTimeout)
	})
}

func TestInvalidValueNamesKey(t *testing.T) {
	envy.Temp(func() {
		envy.Set("OBSIDIAN_FENCE_TIMEOUT", "forever")
		_, err := core.LoadConfiguration()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OBSIDIAN_FENCE_TIMEOUT")
	})
}

func TestPathsExpandHome(t *testing.T) {
	want, err := homedir.Expand("~/obsidian/assets")
	require.NoError(t, err)

	envy.Temp(func() {
		envy.Set("OBSIDIAN_ASSET_DIR", "~/obsidian/assets")
		cfg, err := core.LoadConfiguration()
		require.NoError(t, err)
		assert.Equal(t, want, cfg.Storage.Directory)
	})
}

func TestLogger(t *testing.T) {
	l, err := core.LogConfiguration{Level: "debug", Format: "json"}.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	_, err = core.LogConfiguration{Level: "loud"}.Logger()
	assert.Error(t, err)
	_, err = core.LogConfiguration{Level: "info", Format: "xml"}.Logger()
	assert.Error(t, err)
}

func TestTimeDelta(t *testing.T) {
	tm := core.NewTime(core.TimeConfiguration{FramesPerSecond: 60})
	defer tm.Stop()

	assert.Equal(t, 60, tm.Fps())
	assert.Zero(t, tm.Delta())
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, tm.Delta(), 2*time.Millisecond)
	assert.Greater(t, tm.Elapsed(), time.Duration(0))
}
