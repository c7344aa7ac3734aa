package progress

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// DefaultConcurrency bounds the number of authoritative lookups in flight
const DefaultConcurrency = 4

// Entry is one journey of a list view with its resolved percent
type Entry struct {
	JourneyID string  `json:"journey_id"`
	Percent   float64 `json:"percent"`

	// Corrected is set when the second pass replaced a zero percent
	Corrected bool `json:"corrected,omitempty"`
}

// FailureHandler observes lookups that the second pass swallows
type FailureHandler func(ctx context.Context, journeyID string, err error)

// Corrector re-queries journeys whose list-level percent resolved to exactly
// zero. Zero is ambiguous: it may be genuine zero progress or a percent the
// list endpoint omitted. Both get one lookup.
type Corrector struct {
	fetcher     journey.ProgressStateFetcher
	concurrency int
	onFailure   FailureHandler
}

// CorrectorOption configures a Corrector
type CorrectorOption func(*Corrector)

// WithConcurrency sets the maximum number of concurrent lookups
func WithConcurrency(n int) CorrectorOption {
	return func(c *Corrector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithFailureHandler registers a callback for swallowed lookup failures
func WithFailureHandler(fn FailureHandler) CorrectorOption {
	return func(c *Corrector) {
		c.onFailure = fn
	}
}

// NewCorrector creates a second-pass corrector backed by fetcher
func NewCorrector(fetcher journey.ProgressStateFetcher, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		fetcher:     fetcher,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Correct returns a copy of entries where each zero percent has been replaced
// by the authoritative percent for userID, when that lookup succeeds with a
// finite value. Non-zero entries are never looked up. Failures leave the
// entry at zero.
func (c *Corrector) Correct(ctx context.Context, userID string, entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i := range out {
		if out[i].Percent != 0 {
			continue
		}

		g.Go(func() error {
			state, err := c.fetcher.FetchProgressState(ctx, userID, out[i].JourneyID)
			if err != nil {
				if c.onFailure != nil {
					c.onFailure(ctx, out[i].JourneyID, err)
				}
				return nil
			}

			if state.Percent != nil && isFinite(*state.Percent) {
				out[i].Percent = ClampPercent(*state.Percent)
				out[i].Corrected = true
			}
			return nil
		})
	}

	_ = g.Wait()
	return out
}
