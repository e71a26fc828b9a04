// Package session owns the per-account polling control loops: one
// cancelable session per account, a resilient fetch policy in front of
// the provider clients, and the credential refresh escalation path.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
	"github.com/quotawatch/quotawatch/internal/providers"
)

// session is the live control state for one account. Every field is
// guarded by mu; the timer callback, the fetch completion path and the
// public API all cross this single ownership boundary.
type session struct {
	mu       sync.Mutex
	account  models.Account
	client   providers.Client
	interval time.Duration

	timer    *time.Timer
	cancel   context.CancelFunc
	inFlight bool
	// gen counts fetch operations; a completion whose generation no
	// longer matches has been cancelled and must be a no-op.
	gen     uint64
	stopped bool

	// prev holds only the comparison fractions for crossing detection,
	// distinct from the fallback cache's full snapshots.
	prev     *models.Fractions
	current  *models.UsageSnapshot
	stale    bool
	lastErr  error
	reauthed bool // reauth notification already raised for this outage
}

// Status is the read-only per-account surface consumed by callers.
type Status struct {
	Snapshot    *models.UsageSnapshot
	LastError   error
	AccountID   string
	DisplayName string
	Provider    models.ProviderKind
	Stale       bool
	IsFetching  bool
	NeedsReauth bool
}

func (s *session) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		AccountID:   s.account.ID,
		DisplayName: s.account.Label(),
		Provider:    s.account.Provider,
		Snapshot:    s.current,
		Stale:       s.stale,
		LastError:   s.lastErr,
		IsFetching:  s.inFlight,
		NeedsReauth: s.account.NeedsReauth,
	}
}

// teardown cancels the in-flight operation and disarms the timer as
// one atomic step under the session mutex, then bumps the generation
// so any straggling completion becomes a no-op.
func (s *session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.inFlight = false
}
