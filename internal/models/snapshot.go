// Package models defines data structures and domain types.
package models

import "time"

// ResetState describes whether a usage window is currently usable or
// still counting down to its reset.
type ResetState string

const (
	// ResetReady means the window has reset and is usable now.
	ResetReady ResetState = "ready"
	// ResetCounting means the window is in progress and resets later.
	ResetCounting ResetState = "counting"
	// ResetUnknown means the provider reported no reset information.
	ResetUnknown ResetState = "unknown"
)

// AxisUsage is the usage reading for one axis (session or weekly).
// Fraction is clamped to [0, 1] by the provider client before it
// reaches the core.
type AxisUsage struct {
	ResetsAt     time.Time  `json:"resetsAt,omitzero"`
	ResetState   ResetState `json:"resetState"`
	ResetDisplay string     `json:"resetDisplay,omitempty"`
	Fraction     float64    `json:"fraction"`
}

// Ready reports whether this axis is at zero usage with a usable window.
func (u AxisUsage) Ready() bool {
	return u.Fraction == 0 && u.ResetState == ResetReady
}

// UsageSnapshot is the normalized result of one provider fetch.
// Immutable once produced; the orchestrator rotates it into the
// account's previous values on the next successful cycle.
type UsageSnapshot struct {
	FetchedAt    time.Time          `json:"fetchedAt"`
	ModelUsage   map[string]float64 `json:"modelUsage,omitempty"`
	AccountID    string             `json:"accountId"`
	AccountLabel string             `json:"accountLabel,omitempty"`
	Provider     ProviderKind       `json:"provider"`
	Session      AxisUsage          `json:"session"`
	Weekly       AxisUsage          `json:"weekly"`
}

// Fractions captures the previous-cycle values the detector compares
// against. Kept separate from the fallback cache, which stores whole
// snapshots for display.
type Fractions struct {
	Session          float64
	Weekly           float64
	SessionAboveZero bool
}

// PrevFractions extracts the comparison values from a snapshot.
func (s *UsageSnapshot) PrevFractions() Fractions {
	return Fractions{
		Session:          s.Session.Fraction,
		Weekly:           s.Weekly.Fraction,
		SessionAboveZero: s.Session.Fraction > 0,
	}
}

// ClampFraction bounds a usage fraction to [0, 1]. Provider clients
// apply this to every fraction they emit.
func ClampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
