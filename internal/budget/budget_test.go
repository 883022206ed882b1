// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilControllerIsUnlimited(t *testing.T) {
	var c *Controller
	n, err := c.Reserve(context.Background(), 1<<40)
	require.NoError(t, err)
	assert.Zero(t, n)
	c.Release(n)
	assert.NoError(t, c.WaitUpload(context.Background(), 1<<40))
	assert.Equal(t, Stats{}, c.Stats())
}

func TestReserveBlocksAtLimit(t *testing.T) {
	c := New(Config{MemoryLimitBytes: 100})

	n, err := c.Reserve(context.Background(), 80)
	require.NoError(t, err)
	assert.Equal(t, int64(80), n)

	_, err = c.TryReserve(30)
	assert.Equal(t, ErrMemoryLimitExceeded, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Reserve(ctx, 30)
	assert.Error(t, err)

	got := make(chan int64)
	go func() {
		n, _ := c.Reserve(context.Background(), 30)
		got <- n
	}()
	c.Release(80)
	assert.Equal(t, int64(30), <-got)

	stats := c.Stats()
	assert.Equal(t, int64(30), stats.MemoryUsed)
	assert.Equal(t, int64(80), stats.MemoryPeak)
}

func TestOversizedReservationIsClamped(t *testing.T) {
	c := New(Config{MemoryLimitBytes: 64})
	n, err := c.Reserve(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(64), n)
	c.Release(n)
	assert.Zero(t, c.Stats().MemoryUsed)
}

func TestWaitUploadThrottles(t *testing.T) {
	c := New(Config{UploadBytesPerSec: 1000})
	start := time.Now()
	// the first burst is free, the second half second is not
	require.NoError(t, c.WaitUpload(context.Background(), 1500))
	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(400*time.Millisecond))
	assert.Equal(t, int64(1500), c.Stats().Uploaded)
}
