package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quotawatch/quotawatch/internal/config"
	"github.com/quotawatch/quotawatch/internal/detect"
	"github.com/quotawatch/quotawatch/internal/logger"
	"github.com/quotawatch/quotawatch/internal/models"
	"github.com/quotawatch/quotawatch/internal/providers"
	"github.com/quotawatch/quotawatch/internal/secrets"
)

// Event represents an orchestrator event.
type Event struct {
	Error     error
	Snapshot  *models.UsageSnapshot
	Crossings []models.CrossingEvent
	AccountID string
	Type      EventType
	Stale     bool
}

// EventType defines the type of orchestrator event.
type EventType int

const (
	// EventFetchStarted indicates a fetch cycle began for an account.
	EventFetchStarted EventType = iota
	// EventSnapshotUpdated indicates a successful fetch produced a new snapshot.
	EventSnapshotUpdated
	// EventFetchError indicates a fetch cycle ended in a terminal failure.
	EventFetchError
	// EventTokenRefreshed indicates an access token was rotated successfully.
	EventTokenRefreshed
	// EventReauthRequired indicates the account entered the sticky
	// needs-reauthentication state.
	EventReauthRequired
	// EventThresholdCrossed indicates one or more alert boundaries were crossed.
	EventThresholdCrossed
	// EventSessionReady indicates the session window became usable again.
	EventSessionReady
)

// AccountStore persists the account mutations the sessions make.
type AccountStore interface {
	UpdateDisplayName(id, name string) error
	SetNeedsReauth(id string, needs bool) error
}

// FallbackCache is the last-known-good store consulted on failure.
type FallbackCache interface {
	Set(accountID string, snap models.UsageSnapshot) error
	GetLastKnown(accountID string) (models.UsageSnapshot, bool, bool)
	Delete(accountID string) error
}

// Alerter gates user-visible notifications.
type Alerter interface {
	TrySend(accountID string, kind models.AlertKind, title, body string) bool
	Reset(accountID string)
}

// Deps are the collaborators injected into the orchestrator.
type Deps struct {
	Secrets    secrets.Store
	Cache      FallbackCache
	Alerts     Alerter
	Accounts   AccountStore
	HTTPClient *http.Client
	// NewClient builds a provider client; overridable in tests.
	NewClient func(models.ProviderKind, *http.Client) (providers.Client, error)
}

// Orchestrator owns one polling session per account.
type Orchestrator struct {
	mu       sync.RWMutex
	sessions map[string]*session

	cfg       *config.Config
	deps      Deps
	policy    RetryPolicy
	eventChan chan Event
}

// NewOrchestrator creates an orchestrator; sessions start individually
// via Start.
func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.NewClient == nil {
		deps.NewClient = providers.New
	}
	return &Orchestrator{
		sessions: make(map[string]*session),
		cfg:      cfg,
		deps:     deps,
		policy: RetryPolicy{
			MaxRetries:       cfg.MaxRetries,
			BaseBackoff:      cfg.BaseBackoff,
			RateLimitBackoff: cfg.RateLimitBackoff,
		},
		eventChan: make(chan Event, 100),
	}
}

// Events returns the event channel.
func (o *Orchestrator) Events() <-chan Event {
	return o.eventChan
}

// Start creates the session for an account, performs one immediate
// fetch and arms its repeating timer. Starting an already-running
// account is an error.
func (o *Orchestrator) Start(acc models.Account) error {
	client, err := o.deps.NewClient(acc.Provider, o.deps.HTTPClient)
	if err != nil {
		return fmt.Errorf("failed to build provider client: %w", err)
	}

	interval := acc.PollInterval()
	if interval <= 0 {
		interval = o.cfg.PollInterval
	}

	s := &session{
		account:  acc.Clone(),
		client:   client,
		interval: interval,
	}

	o.mu.Lock()
	if _, exists := o.sessions[acc.ID]; exists {
		o.mu.Unlock()
		return fmt.Errorf("session already running for account %s", acc.ID)
	}
	o.sessions[acc.ID] = s
	o.mu.Unlock()

	logger.Info("session started",
		"account", acc.ID, "provider", acc.Provider, "interval", interval)

	o.beginFetch(s)
	o.armTimer(s)
	return nil
}

// Stop tears down the session for an account. Idempotent; stopping an
// unknown or already-stopped account is a no-op.
func (o *Orchestrator) Stop(id string) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	s.teardown()
	logger.Info("session stopped", "account", id)
}

// Remove stops the session and clears the account's alert cooldowns
// and cached snapshot. Used when an account leaves the inventory.
func (o *Orchestrator) Remove(id string) {
	o.Stop(id)
	o.deps.Alerts.Reset(id)
	if err := o.deps.Cache.Delete(id); err != nil {
		logger.Warn("failed to drop cached snapshot", "account", id, "error", err)
	}
}

// FetchNow triggers an immediate fetch. A call while a fetch is
// already in flight for that account is ignored.
func (o *Orchestrator) FetchNow(id string) {
	if s := o.lookup(id); s != nil {
		o.beginFetch(s)
	}
}

// Reschedule changes the polling interval for an account, effective
// immediately. A non-positive interval selects the configured default.
func (o *Orchestrator) Reschedule(id string, interval time.Duration) {
	s := o.lookup(id)
	if s == nil {
		return
	}
	if interval <= 0 {
		interval = o.cfg.PollInterval
	}

	s.mu.Lock()
	s.interval = interval
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	o.armTimer(s)
	logger.Info("session rescheduled", "account", id, "interval", interval)
}

// Reauthenticate installs fresh credentials supplied by the login
// layer, clears the sticky needs-reauthentication state and the
// account's alert cooldowns, and fetches immediately.
func (o *Orchestrator) Reauthenticate(id string, creds models.Credentials) error {
	if creds.Empty() {
		return fmt.Errorf("no usable credential provided for account %s", id)
	}
	s := o.lookup(id)
	if s == nil {
		return fmt.Errorf("no session for account %s", id)
	}
	if err := o.deps.Secrets.Save(id, creds); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}

	s.mu.Lock()
	s.account.NeedsReauth = false
	s.reauthed = false
	s.lastErr = nil
	s.mu.Unlock()

	if err := o.deps.Accounts.SetNeedsReauth(id, false); err != nil {
		logger.Warn("failed to persist reauth state", "account", id, "error", err)
	}
	o.deps.Alerts.Reset(id)
	o.FetchNow(id)
	return nil
}

// Status returns the surface state for one account.
func (o *Orchestrator) Status(id string) (Status, bool) {
	s := o.lookup(id)
	if s == nil {
		return Status{}, false
	}
	return s.status(), true
}

// AllStatuses returns the surface state of every running session.
func (o *Orchestrator) AllStatuses() []Status {
	o.mu.RLock()
	sessions := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.RUnlock()

	statuses := make([]Status, len(sessions))
	for i, s := range sessions {
		statuses[i] = s.status()
	}
	return statuses
}

// Close stops every session. The event channel stays open so late
// completions never panic; they become no-ops via teardown.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	sessions := o.sessions
	o.sessions = make(map[string]*session)
	o.mu.Unlock()

	for id, s := range sessions {
		s.teardown()
		logger.Debug("session stopped", "account", id)
	}
	return nil
}

func (o *Orchestrator) lookup(id string) *session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessions[id]
}

// armTimer arms the repeating poll timer. The fire callback re-checks
// liveness under the session mutex before doing anything, so a timer
// racing teardown degrades to a no-op.
func (o *Orchestrator) armTimer(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	// Stop-and-replace: leaving an old timer armed here would fork a
	// second re-arming chain and double the poll rate.
	if s.timer != nil {
		s.timer.Stop()
	}
	interval := s.interval
	s.timer = time.AfterFunc(interval, func() {
		o.timerFired(s)
	})
}

func (o *Orchestrator) timerFired(s *session) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	o.beginFetch(s)
	o.armTimer(s)
}

// beginFetch starts a fetch cycle unless one is already in flight.
// Returns true when a new provider call was actually started.
func (o *Orchestrator) beginFetch(s *session) bool {
	s.mu.Lock()
	if s.stopped || s.inFlight {
		s.mu.Unlock()
		return false
	}
	// New fetch supersedes any stale operation handle.
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.inFlight = true
	s.gen++
	gen := s.gen
	acc := s.account.Clone()
	s.mu.Unlock()

	o.sendEvent(Event{Type: EventFetchStarted, AccountID: acc.ID})
	go o.runFetch(ctx, s, gen, acc)
	return true
}

// runFetch is one full fetch cycle: resilient fetch, auth escalation,
// completion bookkeeping, detection and alerting.
func (o *Orchestrator) runFetch(ctx context.Context, s *session, gen uint64, acc models.Account) {
	creds, err := o.deps.Secrets.Load(acc.ID)
	if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		o.completeFailure(s, gen, acc, fmt.Errorf("failed to load credentials: %w", err))
		return
	}

	snap, err := fetchWithRetry(ctx, s.client, creds, o.policy)
	if err != nil && providers.IsUnauthorized(err) {
		s.mu.Lock()
		stuck := s.account.NeedsReauth
		s.mu.Unlock()
		if stuck {
			// Sticky state: the timer may still probe the provider,
			// but refresh is never re-attempted until the user
			// re-authenticates.
			o.completeFailure(s, gen, acc, err)
			return
		}

		// Refresh is attempted at most once per failed cycle.
		newCreds, outcome := o.handleAuthFailure(ctx, s, acc, creds, err)
		switch outcome {
		case RefreshRetried:
			snap, err = fetchWithRetry(ctx, s.client, newCreds, o.policy)
			if err != nil && providers.IsUnauthorized(err) {
				o.markNeedsReauth(s, acc, err)
				o.completeFailure(s, gen, acc, err)
				return
			}
		case RefreshReauthRequired:
			o.completeFailure(s, gen, acc, err)
			return
		}
	}

	if ctx.Err() != nil {
		// Cancelled fetches never produce callbacks; teardown already
		// cleared the in-flight flag under the session mutex.
		return
	}
	if err != nil {
		o.completeFailure(s, gen, acc, err)
		return
	}

	o.completeSuccess(s, gen, acc, snap)
}

// completeSuccess records the snapshot, rotates the previous-cycle
// fractions, and runs detection before notifying observers.
func (o *Orchestrator) completeSuccess(s *session, gen uint64, acc models.Account, snap models.UsageSnapshot) {
	snap.AccountID = acc.ID

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.cancel = nil

	prev := s.prev
	rotated := snap.PrevFractions()
	s.prev = &rotated
	s.current = &snap
	s.stale = false
	s.lastErr = nil
	s.account.NeedsReauth = false
	s.reauthed = false

	var renamed bool
	if snap.AccountLabel != "" && snap.AccountLabel != s.account.DisplayName {
		s.account.DisplayName = snap.AccountLabel
		renamed = true
	}
	label := s.account.Label()
	thresholds := o.cfg.Thresholds
	s.mu.Unlock()

	if renamed {
		if err := o.deps.Accounts.UpdateDisplayName(acc.ID, snap.AccountLabel); err != nil {
			logger.Warn("failed to persist display name", "account", acc.ID, "error", err)
		}
	}
	if err := o.deps.Cache.Set(acc.ID, snap); err != nil {
		logger.Warn("failed to update fallback cache", "account", acc.ID, "error", err)
	}

	o.sendEvent(Event{Type: EventSnapshotUpdated, AccountID: acc.ID, Snapshot: &snap})
	o.dispatchAlerts(acc.ID, label, prev, &snap, thresholds)
}

// completeFailure records lastError and degrades the visible state to
// the cached last-known-good snapshot when one exists.
func (o *Orchestrator) completeFailure(s *session, gen uint64, acc models.Account, fetchErr error) {
	cached, _, ok := o.deps.Cache.GetLastKnown(acc.ID)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.cancel = nil
	s.lastErr = fetchErr
	if s.current == nil && ok {
		s.current = &cached
	}
	if s.current != nil {
		// Whatever is displayed no longer reflects this cycle.
		s.stale = true
	}
	var snap *models.UsageSnapshot
	if s.current != nil {
		snap = s.current
	}
	s.mu.Unlock()

	logger.Error("fetch failed", "account", acc.ID, "provider", acc.Provider, "error", fetchErr)
	o.sendEvent(Event{
		Type:      EventFetchError,
		AccountID: acc.ID,
		Error:     fetchErr,
		Snapshot:  snap,
		Stale:     snap != nil,
	})
}

// dispatchAlerts runs the detector and pushes the resulting alerts
// through the rate-limited dispatcher. Ready transitions may trigger
// an auto-wake fetch when enabled.
func (o *Orchestrator) dispatchAlerts(accountID, label string, prev *models.Fractions, snap *models.UsageSnapshot, thresholds []models.ThresholdConfig) {
	res := detect.Check(prev, snap, thresholds)

	if len(res.Crossings) > 0 {
		for _, c := range res.Crossings {
			title := fmt.Sprintf("Usage Alert: %s", label)
			body := fmt.Sprintf("%s usage crossed %.0f%% (now %.0f%%)",
				axisLabel(c.Axis), c.Threshold*100, c.Current*100)
			o.deps.Alerts.TrySend(accountID, c.Kind, title, body)
		}
		o.sendEvent(Event{Type: EventThresholdCrossed, AccountID: accountID, Crossings: res.Crossings})
	}

	if res.Ready {
		o.deps.Alerts.TrySend(accountID, models.AlertReady,
			fmt.Sprintf("Session Ready: %s", label),
			"Your session window has reset and is usable again.")
		o.sendEvent(Event{Type: EventSessionReady, AccountID: accountID})

		if o.cfg.AutoWake {
			logger.Debug("auto-wake fetch", "account", accountID)
			o.FetchNow(accountID)
		}
	}
}

func axisLabel(axis models.Axis) string {
	if axis == models.AxisWeekly {
		return "Weekly"
	}
	return "Session"
}

// sendEvent sends an event to the event channel non-blocking.
func (o *Orchestrator) sendEvent(event Event) {
	select {
	case o.eventChan <- event:
	default:
		// Channel full, drop oldest
		select {
		case <-o.eventChan:
		default:
		}
		select {
		case o.eventChan <- event:
		default:
		}
	}
}
