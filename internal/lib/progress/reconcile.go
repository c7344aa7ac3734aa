package progress

import (
	"math"

	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// Reconciler resolves a single completion percentage from the backend's
// possibly inconsistent progress fields
type Reconciler interface {
	Reconcile(serverPercent, serverProgressMeters *float64, totalLengthMeters float64) float64
}

// DefaultReconciler applies the percent-first fallback policy of Reconcile
type DefaultReconciler struct{}

// Reconcile implements Reconciler
func (DefaultReconciler) Reconcile(serverPercent, serverProgressMeters *float64, totalLengthMeters float64) float64 {
	return Reconcile(serverPercent, serverProgressMeters, totalLengthMeters)
}

// Reconcile returns a percent in [0,100]. A finite server percent wins, then
// meters over the route length, then zero.
func Reconcile(serverPercent, serverProgressMeters *float64, totalLengthMeters float64) float64 {
	if serverPercent != nil && isFinite(*serverPercent) {
		return ClampPercent(*serverPercent)
	}

	if serverProgressMeters != nil && isFinite(*serverProgressMeters) && totalLengthMeters > 0 {
		return ClampPercent(100 * *serverProgressMeters / totalLengthMeters)
	}

	return 0
}

// ReconcileState is Reconcile applied to a fetched progress state
func ReconcileState(r Reconciler, state journey.ProgressState, totalLengthMeters float64) float64 {
	if r == nil {
		r = DefaultReconciler{}
	}
	return r.Reconcile(state.Percent, state.ProgressMeters, totalLengthMeters)
}

// ClampPercent limits v to [0,100]
func ClampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
