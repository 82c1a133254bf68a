package sidecar

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/AreTaj/Migraine-Navigator/internal/config"
)

const (
	defaultBackoffMin    = time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultBackoffFactor = 2.0
)

type restartPolicy struct {
	mode       string
	maxRetries int
	min        time.Duration
	max        time.Duration
	factor     float64
}

func deriveRestartPolicy(rp *config.RestartPolicy) restartPolicy {
	pol := restartPolicy{mode: config.RestartNever, min: defaultBackoffMin, max: defaultBackoffMax, factor: defaultBackoffFactor}
	if rp == nil {
		return pol
	}

	if rp.Policy != "" {
		pol.mode = rp.Policy
	}
	if rp.MaxRetries < 0 {
		pol.maxRetries = -1
	} else {
		pol.maxRetries = rp.MaxRetries
	}
	if rp.Backoff != nil {
		if rp.Backoff.Min.Duration > 0 {
			pol.min = rp.Backoff.Min.Duration
		}
		if rp.Backoff.Max.Duration > 0 {
			pol.max = rp.Backoff.Max.Duration
		}
		if rp.Backoff.Factor > 0 {
			pol.factor = rp.Backoff.Factor
		}
	}

	if pol.max < pol.min {
		pol.max = pol.min
	}
	if pol.factor <= 1 {
		pol.factor = defaultBackoffFactor
	}
	return pol
}

// wantsRestart reports whether an exit with exitErr qualifies for a restart
// under the policy, ignoring the retry budget.
func (p restartPolicy) wantsRestart(exitErr error) bool {
	switch p.mode {
	case config.RestartAlways:
		return true
	case config.RestartOnFailure:
		return exitErr != nil
	default:
		return false
	}
}

func (p restartPolicy) allowRestart(restarts int) bool {
	if p.maxRetries < 0 {
		return true
	}
	return restarts < p.maxRetries
}

// nextDelay returns the jittered sleep for the current base and advances base
// for the following attempt.
func (p restartPolicy) nextDelay(base *time.Duration, jitter func(time.Duration) time.Duration) time.Duration {
	delay := *base
	if delay <= 0 {
		delay = p.min
	}
	if delay > p.max {
		delay = p.max
	}

	jittered := jitter(delay)
	if jittered > p.max {
		jittered = p.max
	}
	if jittered < 0 {
		jittered = 0
	}

	next := float64(delay) * p.factor
	switch {
	case math.IsInf(next, 0) || next > float64(p.max):
		*base = p.max
	case time.Duration(next) < p.min:
		*base = p.min
	default:
		*base = time.Duration(next)
	}
	return jittered
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// Full jitter: random duration in [0, d].
	return time.Duration(rand.Float64() * float64(d))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
