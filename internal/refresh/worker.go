// Package refresh keeps the catalog store in line with its source. Every
// successful load that changes the catalog is fanned out as a full
// replacement.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/metrics"
)

type Options struct {
	Interval    time.Duration
	LoadTimeout time.Duration
}

type Worker struct {
	log      zerolog.Logger
	src      catalog.Source
	store    *catalog.Store
	onChange func()
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics

	// one load at a time between Run and on-demand reloads
	mu sync.Mutex
}

func New(log zerolog.Logger, src catalog.Source, store *catalog.Store, onChange func(), opts Options, m *metrics.Metrics) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := opts.LoadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{
		log:      log,
		src:      src,
		store:    store,
		onChange: onChange,
		interval: interval,
		timeout:  timeout,
		metrics:  m,
	}
}

// Run polls the source until ctx is done. Failed loads back off
// exponentially.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.src == nil {
		return
	}

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.RunOnce(ctx); err != nil {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(w.interval, consecutiveFailures))
	}
}

// RunOnce loads the catalog once and replaces the store. onChange runs only
// when the content differs from what the store held.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	devices, err := w.src.Load(loadCtx)
	if err != nil {
		w.log.Error().Err(err).Msg("catalog refresh failed")
		w.metrics.IncCatalogRefresh("error")
		return false, err
	}

	if !w.store.Replace(devices) {
		w.metrics.IncCatalogRefresh("unchanged")
		return false, nil
	}
	w.metrics.IncCatalogRefresh("changed")
	w.log.Info().Int("devices", len(devices)).Uint64("version", w.store.Version()).Msg("catalog replaced")

	if w.onChange != nil {
		w.onChange()
	}
	return true, nil
}

const maxBackoff = 30 * time.Minute

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 5 * time.Minute
	}
	if failures <= 0 || base >= maxBackoff {
		return base
	}

	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
