// Package throttle bounds the CPU and request rate used while indexing.
package throttle

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxCPUPercent is the default share of host cores indexing may use
	DefaultMaxCPUPercent = 50

	// DefaultBatchDelay is the default pause between indexing batches
	DefaultBatchDelay = 100 * time.Millisecond
)

// Config controls the throttle
type Config struct {
	MaxCPUPercent     int           // 1-100; <= 0 uses DefaultMaxCPUPercent
	BatchDelay        time.Duration // pause between batches; 0 disables it
	RequestsPerSecond float64       // embedding request limit; 0 is unlimited
}

// Throttle computes worker budgets and paces indexing work
type Throttle struct {
	cores      int
	cpuPercent int
	budget     int
	batchDelay time.Duration
	limiter    *rate.Limiter
}

// New creates a throttle for the host's core count
func New(cfg Config) *Throttle {
	return newWithCores(cfg, runtime.NumCPU())
}

func newWithCores(cfg Config, cores int) *Throttle {
	if cores < 1 {
		cores = 1
	}
	percent := cfg.MaxCPUPercent
	if percent <= 0 {
		percent = DefaultMaxCPUPercent
	}
	if percent > 100 {
		percent = 100
	}

	budget := cores * percent / 100
	if budget < 1 {
		budget = 1
	}

	t := &Throttle{
		cores:      cores,
		cpuPercent: percent,
		budget:     budget,
		batchDelay: cfg.BatchDelay,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t
}

// Cores returns the host core count
func (t *Throttle) Cores() int { return t.cores }

// CPUPercent returns the effective CPU ceiling
func (t *Throttle) CPUPercent() int { return t.cpuPercent }

// WorkerBudget returns max(1, floor(cores * cpuPercent / 100))
func (t *Throttle) WorkerBudget() int { return t.budget }

// BatchDelay returns the pause applied between batches
func (t *Throttle) BatchDelay() time.Duration { return t.batchDelay }

// Workers returns the worker count for a requested thread count.
// requested <= 0 means auto and yields the budget; any other request is
// capped by both the budget and the core count.
func (t *Throttle) Workers(requested int) int {
	if requested <= 0 {
		return t.budget
	}
	n := requested
	if n > t.budget {
		n = t.budget
	}
	if n > t.cores {
		n = t.cores
	}
	return n
}

// Pause sleeps for the batch delay or until ctx is done
func (t *Throttle) Pause(ctx context.Context) error {
	if t.batchDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t.batchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait blocks until one embedding request may proceed
func (t *Throttle) Wait(ctx context.Context) error {
	if t.limiter == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}
