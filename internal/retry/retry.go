// Package retry implements the §4.8 retry policy: a higher-order wrapper
// around a handler call, parameterized by a preset (api or critical),
// exponential backoff with jitter and a cap, and a classify function that
// decides whether a given error is worth retrying at all.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"mirror-engine/pkg/types"
)

// Preset is the tuning for one retry budget (§2, §4.8: "api" vs "critical").
type Preset struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// Presets holds the two standard budgets named in the spec.
var Presets = map[types.RetryPreset]Preset{
	types.RetryAPI:      {MaxAttempts: 3, Base: 500 * time.Millisecond, Cap: 10 * time.Second},
	types.RetryCritical: {MaxAttempts: 5, Base: 500 * time.Millisecond, Cap: 30 * time.Second},
}

// Classify decides whether err should trigger another attempt.
type Classify func(err error) bool

// ErrStopped is returned when ctx is cancelled (the supervisor's stop
// signal) between attempts, so the worker can distinguish a deliberate stop
// from the handler's own failure.
var ErrStopped = errors.New("retry: stopped")

// Do runs fn, retrying under preset's budget while classify(err) is true.
// It sleeps min(cap, base*2^attempt) plus jitter between attempts, and
// checks ctx at every sleep boundary (§5: "a worker checks the signal ...
// at every sleep boundary in the retry policy").
func Do(ctx context.Context, preset types.RetryPreset, classify Classify, fn func() error) error {
	p, ok := Presets[preset]
	if !ok {
		p = Presets[types.RetryAPI]
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ErrStopped
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if classify != nil && !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		sleep := backoff(p, attempt)
		select {
		case <-ctx.Done():
			return ErrStopped
		case <-time.After(sleep):
		}
	}
	return lastErr
}

func backoff(p Preset, attempt int) time.Duration {
	d := time.Duration(float64(p.Base) * math.Pow(2, float64(attempt)))
	if d > p.Cap {
		d = p.Cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
