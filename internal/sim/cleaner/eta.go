package cleaner

import (
	"math"
	"sync"
	"time"
)

type etaSample struct {
	at    time.Time
	units int64
}

// Estimator derives a completion estimate from a trailing window of
// throughput samples. Before any sample lands in the window it falls
// back to the job's nominal duration scaled by remaining progress.
type Estimator struct {
	mu      sync.Mutex
	window  time.Duration
	nominal time.Duration
	samples []etaSample

	now func() time.Time
}

func NewEstimator(window, nominal time.Duration) *Estimator {
	if window <= 0 {
		window = 8 * time.Second
	}
	return &Estimator{
		window:  window,
		nominal: nominal,
		now:     time.Now,
	}
}

func (e *Estimator) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	e.mu.Lock()
	e.window = window
	e.mu.Unlock()
}

// Observe records units of progress at the current time.
func (e *Estimator) Observe(units int64) {
	if units <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.samples = append(e.samples, etaSample{at: now, units: units})
	e.pruneLocked(now)
}

func (e *Estimator) pruneLocked(now time.Time) {
	cutoff := now.Add(-e.window)
	i := 0
	for i < len(e.samples) && e.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		e.samples = append(e.samples[:0], e.samples[i:]...)
	}
}

// ETA returns the estimated seconds to completion. Zero once done,
// otherwise never below one second.
func (e *Estimator) ETA(processed, total int64) int64 {
	if total <= 0 || processed >= total {
		return 0
	}

	e.mu.Lock()
	now := e.now()
	e.pruneLocked(now)
	var sum int64
	for _, s := range e.samples {
		sum += s.units
	}
	window := e.window
	nominal := e.nominal
	e.mu.Unlock()

	rate := float64(sum) / window.Seconds()
	progress := float64(processed) / float64(total)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	var eta float64
	if rate < 1e-9 {
		eta = math.Ceil((1 - progress) * nominal.Seconds())
	} else {
		eta = math.Ceil(float64(total-processed) / rate)
	}
	if eta < 1 {
		eta = 1
	}
	return int64(eta)
}
