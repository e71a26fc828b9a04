// Package models defines data structures and domain types.
package models

import "fmt"

// Axis selects which usage window a threshold applies to.
type Axis string

const (
	// AxisSession is the short rolling window (e.g. 5-hour).
	AxisSession Axis = "session"
	// AxisWeekly is the longer period window.
	AxisWeekly Axis = "weekly"
)

// AlertKind keys an alert family for cooldown purposes. Threshold
// alerts derive their kind from axis and fraction ("session80");
// the remaining kinds are fixed.
type AlertKind string

const (
	// AlertReady fires when a session window transitions to usable.
	AlertReady AlertKind = "session_ready"
	// AlertReauth fires when an account needs re-authentication.
	// Not part of the threshold cooldown family.
	AlertReauth AlertKind = "reauth"
)

// ThresholdAlertKind derives the alert kind for a threshold tuple.
func ThresholdAlertKind(axis Axis, fraction float64) AlertKind {
	return AlertKind(fmt.Sprintf("%s%d", axis, int(fraction*100+0.5)))
}

// ThresholdConfig is one (axis, fraction, kind) alert tuple.
type ThresholdConfig struct {
	Axis     Axis
	Kind     AlertKind
	Fraction float64
}

// NewThreshold builds a tuple with its derived alert kind.
func NewThreshold(axis Axis, fraction float64) ThresholdConfig {
	return ThresholdConfig{
		Axis:     axis,
		Fraction: fraction,
		Kind:     ThresholdAlertKind(axis, fraction),
	}
}

// DefaultThresholds returns the standard alert boundaries.
func DefaultThresholds() []ThresholdConfig {
	return []ThresholdConfig{
		NewThreshold(AxisSession, 0.75),
		NewThreshold(AxisSession, 0.90),
		NewThreshold(AxisWeekly, 0.75),
		NewThreshold(AxisWeekly, 0.90),
	}
}

// CrossingEvent reports one threshold crossed upward between two
// consecutive successful fetches.
type CrossingEvent struct {
	Axis      Axis
	Kind      AlertKind
	Threshold float64
	Previous  float64
	Current   float64
}
