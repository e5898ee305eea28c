// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultTimerResolution is the cadence of the timer loop unless overridden
// with WithTimerResolution. The value trades timer latency against CPU.
const DefaultTimerResolution = 100 * time.Millisecond

// schedulerOptions holds configuration applied at construction.
type schedulerOptions struct {
	logger     *logiface.Logger[logiface.Event]
	resolution time.Duration
}

// Option configures a Scheduler.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applyFunc(opts)
}

// WithTimerResolution sets the cadence at which the timer loop wakes armed
// timers and sleepers. Must be positive.
func WithTimerResolution(d time.Duration) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return fmt.Errorf(`fibersched: invalid timer resolution %v`, d)
		}
		opts.resolution = d
		return nil
	}}
}

// WithLogger sets the structured logger used by the scheduler and its
// background loops. A nil logger disables logging entirely.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances over the defaults.
func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		resolution: DefaultTimerResolution,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // nil options are skipped
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
