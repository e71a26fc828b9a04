// Package detect decides which alerts a new usage snapshot warrants.
// It is a pure comparison against the previous cycle's fractions; the
// dispatcher owns rate limiting and delivery.
package detect

import "github.com/quotawatch/quotawatch/internal/models"

// Result is the outcome of one detection pass.
type Result struct {
	Crossings []models.CrossingEvent
	// Ready is true when the session window transitioned from in-use
	// to usable since the last update. The orchestrator may turn this
	// into an auto-wake fetch.
	Ready bool
}

// Check evaluates every configured threshold tuple against the jump
// from prev to cur, then the ready transition. A nil prev (first
// update ever observed for the account) never fires anything.
func Check(prev *models.Fractions, cur *models.UsageSnapshot, thresholds []models.ThresholdConfig) Result {
	if prev == nil {
		return Result{}
	}

	var res Result
	for _, th := range thresholds {
		var before, after float64
		switch th.Axis {
		case models.AxisSession:
			before, after = prev.Session, cur.Session.Fraction
		case models.AxisWeekly:
			before, after = prev.Weekly, cur.Weekly.Fraction
		default:
			continue
		}

		// Upward crossings only; sitting at or above the boundary on
		// both sides fires nothing.
		if before < th.Fraction && after >= th.Fraction {
			res.Crossings = append(res.Crossings, models.CrossingEvent{
				Axis:      th.Axis,
				Kind:      th.Kind,
				Threshold: th.Fraction,
				Previous:  before,
				Current:   after,
			})
		}
	}

	res.Ready = prev.SessionAboveZero && cur.Session.Ready()
	return res
}
