// Package workerutil launches background goroutines with panic recovery and
// bounded restart backoff.
package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the delay before the first restart after a
	// panic; it doubles on each subsequent attempt up to defaultMaxBackoff.
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultMaxRetries     = 10
)

// Options configures panic handling for Go. Zero-value fields take the
// package defaults above.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxRetries caps total runs of the worker function. Use 1 for workers
	// whose state cannot survive a restart (a protocol read loop has no
	// stream position to resume from).
	MaxRetries int

	// OnFatal runs after the final panic, once no restart will happen.
	// May be nil.
	OnFatal func(name string)
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// Go runs fn on a goroutine tracked by wg, recovering panics and restarting
// fn with exponential backoff until it returns normally, ctx is cancelled,
// or Options.MaxRetries runs are exhausted. wg.Go registers the goroutine
// before returning, so a following wg.Wait cannot race the launch.
func Go(ctx context.Context, name string, wg *sync.WaitGroup, fn func(ctx context.Context), opts Options) {
	opts = opts.withDefaults()
	wg.Go(func() {
		run(ctx, name, fn, opts)
	})
}

func run(ctx context.Context, name string, fn func(ctx context.Context), opts Options) {
	delay := opts.InitialBackoff

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		panicked := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("[worker] recovered from panic",
						"worker", name,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					panicked = true
				}
			}()
			fn(ctx)
		}()

		if !panicked || ctx.Err() != nil {
			return
		}
		if attempt == opts.MaxRetries {
			break
		}

		slog.Warn("[worker] restarting after panic",
			"worker", name, "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(delay*2, opts.MaxBackoff)
	}

	slog.Error("[worker] giving up after repeated panics",
		"worker", name, "retries", opts.MaxRetries)
	if opts.OnFatal != nil {
		opts.OnFatal(name)
	}
}
