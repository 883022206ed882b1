// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	interval := time.Nanosecond
	if cfg.FramesPerSecond > 0 {
		interval = time.Second / time.Duration(cfg.FramesPerSecond)
	}
	poll := cfg.EventPollDelay
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}

	return &Time{
		fps:         cfg.FramesPerSecond,
		fpsTicker:   time.NewTicker(interval),
		eventTicker: time.NewTicker(poll),
		start:       time.Now(),
	}
}

// Time contains all the time services and tickers
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventTicker *time.Ticker

	start time.Time
	last  time.Time
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// Delta returns the time since the previous call, zero on the first.
func (t *Time) Delta() time.Duration {
	now := time.Now()
	defer func() { t.last = now }()
	if t.last.IsZero() {
		return 0
	}
	return now.Sub(t.last)
}

// Elapsed returns the time since the service was created.
func (t *Time) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop stops the tickers.
func (t *Time) Stop() {
	t.fpsTicker.Stop()
	t.eventTicker.Stop()
}
