// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package budget bounds the host memory held by decoded assets and
// throttles the bytes streamed to the device. A nil Controller imposes
// no limits.
package budget

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes caps decoded asset payloads held in memory.
	// If 0, only tracking is done.
	MemoryLimitBytes int64

	// UploadBytesPerSec caps device upload throughput.
	// If 0, unlimited.
	UploadBytesPerSec int64
}

// Controller manages the loader's memory and upload bandwidth.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed int64
	peak    int64

	uploadLimiter *rate.Limiter
	uploaded      int64
}

// New creates a new Controller.
func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.UploadBytesPerSec > 0 {
		c.uploadLimiter = rate.NewLimiter(rate.Limit(cfg.UploadBytesPerSec), int(cfg.UploadBytesPerSec))
	}
	return c
}

// clamp keeps a single reservation satisfiable, a payload larger than
// the whole budget takes all of it.
func (c *Controller) clamp(bytes int64) int64 {
	if c.cfg.MemoryLimitBytes > 0 && bytes > c.cfg.MemoryLimitBytes {
		return c.cfg.MemoryLimitBytes
	}
	return bytes
}

// Reserve blocks until bytes of memory are available. It returns the
// amount actually reserved, which must be passed to Release.
func (c *Controller) Reserve(ctx context.Context, bytes int64) (int64, error) {
	if c == nil || bytes <= 0 {
		return 0, nil
	}
	bytes = c.clamp(bytes)
	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return 0, err
		}
	}
	c.account(bytes)
	return bytes, nil
}

// TryReserve reserves memory without blocking.
func (c *Controller) TryReserve(bytes int64) (int64, error) {
	if c == nil || bytes <= 0 {
		return 0, nil
	}
	bytes = c.clamp(bytes)
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return 0, ErrMemoryLimitExceeded
	}
	c.account(bytes)
	return bytes, nil
}

func (c *Controller) account(bytes int64) {
	used := atomic.AddInt64(&c.memUsed, bytes)
	for {
		peak := atomic.LoadInt64(&c.peak)
		if used <= peak || atomic.CompareAndSwapInt64(&c.peak, peak, used) {
			return
		}
	}
}

// Release returns reserved memory.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	atomic.AddInt64(&c.memUsed, -bytes)
}

// WaitUpload blocks until the upload rate allows bytes more to be sent.
func (c *Controller) WaitUpload(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	atomic.AddInt64(&c.uploaded, bytes)
	if c.uploadLimiter == nil {
		return nil
	}
	burst := int64(c.uploadLimiter.Burst())
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.uploadLimiter.WaitN(ctx, int(n)); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// Stats is a snapshot of the controller counters.
type Stats struct {
	MemoryUsed  int64
	MemoryPeak  int64
	MemoryLimit int64
	Uploaded    int64
}

// Stats returns the current counters.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsed:  atomic.LoadInt64(&c.memUsed),
		MemoryPeak:  atomic.LoadInt64(&c.peak),
		MemoryLimit: c.cfg.MemoryLimitBytes,
		Uploaded:    atomic.LoadInt64(&c.uploaded),
	}
}
