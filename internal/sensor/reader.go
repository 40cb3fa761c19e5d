// Package sensor polls hardware and system sources into snapshots.
package sensor

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
)

// totalFailureLimit is the number of consecutive polls with no readable
// source after which Poll reports ErrAllSourcesUnavailable.
const totalFailureLimit = 2

// Source fills its part of a snapshot. It returns the number of items it
// read and the identifiers of the items it failed to read.
type Source interface {
	Name() string
	Collect(ctx context.Context, snap *Snapshot) (ok int, failed []string)
}

// Reader polls every source into a Snapshot.
type Reader struct {
	sources []Source
	log     logger.Logger
	now     func() time.Time

	// mu serializes polls; sources keep per-poll state such as filters.
	mu            sync.Mutex
	totalFailures int
}

type ReaderOption func(*Reader)

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) ReaderOption {
	return func(r *Reader) {
		r.now = now
	}
}

func WithLogger(log logger.Logger) ReaderOption {
	return func(r *Reader) {
		r.log = log
	}
}

func NewReader(sources []Source, opts ...ReaderOption) *Reader {
	r := &Reader{
		sources: sources,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Poll reads every source once. Unreadable items are left out of the
// snapshot and listed in FailedSources. The returned snapshot is always
// usable; the error is set only after consecutive polls in which nothing
// at all could be read.
func (r *Reader) Poll(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{Timestamp: r.now()}

	var readable int
	for _, src := range r.sources {
		if ctx.Err() != nil {
			return snap, ctx.Err()
		}
		ok, failed := src.Collect(ctx, &snap)
		readable += ok
		for _, id := range failed {
			r.log.Debug().
				Str("source", src.Name()).
				Str("error_code", string(errors.ErrSourceUnavailable)).
				Str("id", id).
				Msg("Sensor source unavailable")
		}
		snap.FailedSources = append(snap.FailedSources, failed...)
	}

	sort.Strings(snap.FailedSources)
	snap.Partial = len(snap.FailedSources) > 0

	if readable > 0 {
		r.totalFailures = 0
		return snap, nil
	}

	snap.Partial = true
	r.totalFailures++
	if r.totalFailures >= totalFailureLimit {
		return snap, errors.New().WithData(errors.ErrAllSourcesUnavailable, struct {
			ConsecutivePolls int
			Failed           []string
		}{r.totalFailures, snap.FailedSources})
	}

	return snap, nil
}
