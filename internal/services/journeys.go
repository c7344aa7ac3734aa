package services

import (
	"context"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
	"github.com/dpup/journey.ersn.net/server/internal/lib/progress"
)

// JourneySummary is one row of the list endpoint as the backend returns it
type JourneySummary struct {
	JourneyID         string   `json:"journey_id"`
	Name              string   `json:"name"`
	Percent           *float64 `json:"percent,omitempty"`
	ProgressMeters    *float64 `json:"progress_meters,omitempty"`
	TotalLengthMeters float64  `json:"total_length_meters"`
}

// JourneyListItem is a summary with its resolved completion percent
type JourneyListItem struct {
	JourneySummary
	ResolvedPercent float64 `json:"resolved_percent"`
	Corrected       bool    `json:"corrected,omitempty"`
}

// JourneyListService resolves percentages for a user's journey list
type JourneyListService struct {
	reconciler progress.Reconciler
	corrector  *progress.Corrector
}

// NewJourneyListService creates a new JourneyListService
func NewJourneyListService(fetcher journey.ProgressStateFetcher, reconciler progress.Reconciler, concurrency int) *JourneyListService {
	if reconciler == nil {
		reconciler = progress.DefaultReconciler{}
	}
	return &JourneyListService{
		reconciler: reconciler,
		corrector: progress.NewCorrector(fetcher,
			progress.WithConcurrency(concurrency),
			progress.WithFailureHandler(func(ctx context.Context, journeyID string, err error) {
				logging.Warnw(ctx, "Second pass progress lookup failed, keeping 0%",
					"journey_id", journeyID, "error", err)
			})),
	}
}

// List reconciles every summary, then re-queries those that resolved to 0%
func (s *JourneyListService) List(ctx context.Context, userID string, summaries []JourneySummary) []JourneyListItem {
	ctx = logging.EnsureLogger(ctx)

	entries := make([]progress.Entry, len(summaries))
	for i, sum := range summaries {
		entries[i] = progress.Entry{
			JourneyID: sum.JourneyID,
			Percent:   s.reconciler.Reconcile(sum.Percent, sum.ProgressMeters, sum.TotalLengthMeters),
		}
	}

	entries = s.corrector.Correct(ctx, userID, entries)

	items := make([]JourneyListItem, len(summaries))
	var corrected int
	for i, sum := range summaries {
		items[i] = JourneyListItem{
			JourneySummary:  sum,
			ResolvedPercent: entries[i].Percent,
			Corrected:       entries[i].Corrected,
		}
		if entries[i].Corrected {
			corrected++
		}
	}

	logging.Debugw(ctx, "Journey list resolved", "user_id", userID, "journeys", len(items), "corrected", corrected)
	return items
}
