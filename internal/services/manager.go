// Package services wires the account inventory, polling sessions,
// fallback cache and alert dispatcher into one monitor.
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/quotawatch/quotawatch/internal/cache"
	"github.com/quotawatch/quotawatch/internal/config"
	"github.com/quotawatch/quotawatch/internal/logger"
	"github.com/quotawatch/quotawatch/internal/models"
	"github.com/quotawatch/quotawatch/internal/notify"
	"github.com/quotawatch/quotawatch/internal/secrets"
	"github.com/quotawatch/quotawatch/internal/services/accounts"
	"github.com/quotawatch/quotawatch/internal/services/session"
)

type (
	// AccountsChangedEvent is emitted when the inventory changes.
	AccountsChangedEvent struct {
		Accounts []models.Account
	}

	// SnapshotEvent is emitted when fresh usage data lands for an account.
	SnapshotEvent struct {
		Snapshot  *models.UsageSnapshot
		AccountID string
		Stale     bool
	}

	// FetchErrorEvent is emitted when a fetch cycle fails terminally.
	FetchErrorEvent struct {
		Error     error
		Snapshot  *models.UsageSnapshot
		AccountID string
	}

	// ThresholdEvent is emitted when usage crosses alert boundaries.
	ThresholdEvent struct {
		Crossings []models.CrossingEvent
		AccountID string
	}

	// ReauthEvent is emitted when an account needs re-authentication.
	ReauthEvent struct {
		AccountID string
	}

	// ReadyEvent is emitted when a session window resets to usable.
	ReadyEvent struct {
		AccountID string
	}

	// ErrorEvent is emitted when an error occurs in any service.
	ErrorEvent struct {
		Error   error
		Service string
	}

	// StatsEvent carries aggregated monitor statistics.
	StatsEvent struct {
		AccountCount int
		FetchingNow  int
		NeedReauth   int
		StaleCount   int
		WorstSession float64
		WorstWeekly  float64
	}
)

// ServiceEvent is the interface implemented by all manager events.
type ServiceEvent interface {
	isServiceEvent()
}

func (AccountsChangedEvent) isServiceEvent() {}
func (SnapshotEvent) isServiceEvent()        {}
func (FetchErrorEvent) isServiceEvent()      {}
func (ThresholdEvent) isServiceEvent()       {}
func (ReauthEvent) isServiceEvent()          {}
func (ReadyEvent) isServiceEvent()           {}
func (ErrorEvent) isServiceEvent()           {}
func (StatsEvent) isServiceEvent()           {}

// Manager composes the services and routes their events to subscribers.
type Manager struct {
	mu          sync.RWMutex
	subscribers []chan<- ServiceEvent
	intervals   map[string]time.Duration

	accounts *accounts.Service
	orch     *session.Orchestrator
	cache    *cache.Store
	secrets  secrets.Store
	alerts   *notify.Dispatcher

	eventChan chan ServiceEvent
	stopChan  chan struct{}
}

// NewManager builds the full monitor from configuration and starts a
// polling session for every account already in the inventory.
// Credentials live in the system keyring and alerts go to the desktop.
func NewManager(cfg *config.Config) (*Manager, error) {
	return newManager(cfg, secrets.NewKeyring(), notify.NewDesktop())
}

func newManager(cfg *config.Config, store secrets.Store, alertChannel notify.Channel) (*Manager, error) {
	m := &Manager{
		eventChan: make(chan ServiceEvent, 100),
		stopChan:  make(chan struct{}),
		intervals: make(map[string]time.Duration),
		secrets:   store,
	}

	var err error
	m.accounts, err = accounts.New(cfg.AccountsPath)
	if err != nil {
		return nil, err
	}

	m.cache, err = cache.New(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback cache: %w", err)
	}

	m.alerts = notify.NewDispatcher(alertChannel, cfg.AlertCooldown)

	m.orch = session.NewOrchestrator(cfg, session.Deps{
		Secrets:  m.secrets,
		Cache:    m.cache,
		Alerts:   m.alerts,
		Accounts: m.accounts,
	})

	for _, acc := range m.accounts.List() {
		m.startSession(acc)
	}

	go m.routeEvents()
	return m, nil
}

// routeEvents fans service events out to subscribers.
func (m *Manager) routeEvents() {
	for {
		select {
		case event := <-m.accounts.Events():
			m.handleAccountEvent(event)

		case event := <-m.orch.Events():
			m.handleSessionEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) handleAccountEvent(event accounts.Event) {
	switch event.Type {
	case accounts.EventLoaded, accounts.EventChanged,
		accounts.EventAdded, accounts.EventUpdated, accounts.EventRemoved:
		m.syncSessions()
		m.broadcast(AccountsChangedEvent{Accounts: m.accounts.List()})

	case accounts.EventError:
		m.broadcast(ErrorEvent{Service: "accounts", Error: event.Error})
	}
}

func (m *Manager) handleSessionEvent(event session.Event) {
	switch event.Type {
	case session.EventSnapshotUpdated:
		m.broadcast(SnapshotEvent{AccountID: event.AccountID, Snapshot: event.Snapshot})

	case session.EventFetchError:
		m.broadcast(FetchErrorEvent{
			AccountID: event.AccountID,
			Error:     event.Error,
			Snapshot:  event.Snapshot,
		})

	case session.EventThresholdCrossed:
		m.broadcast(ThresholdEvent{AccountID: event.AccountID, Crossings: event.Crossings})

	case session.EventReauthRequired:
		m.broadcast(ReauthEvent{AccountID: event.AccountID})

	case session.EventSessionReady:
		m.broadcast(ReadyEvent{AccountID: event.AccountID})
	}
}

// syncSessions reconciles running sessions against the inventory:
// missing accounts get sessions, removed accounts lose theirs, and
// interval edits take effect.
func (m *Manager) syncSessions() {
	inventory := m.accounts.List()

	present := make(map[string]bool, len(inventory))
	for _, acc := range inventory {
		present[acc.ID] = true

		if _, running := m.orch.Status(acc.ID); !running {
			m.startSession(acc)
			continue
		}

		m.mu.Lock()
		prev := m.intervals[acc.ID]
		interval := acc.PollInterval()
		changed := interval != prev
		if changed {
			m.intervals[acc.ID] = interval
		}
		m.mu.Unlock()
		if changed {
			m.orch.Reschedule(acc.ID, interval)
		}
	}

	for _, st := range m.orch.AllStatuses() {
		if !present[st.AccountID] {
			m.orch.Remove(st.AccountID)
			m.mu.Lock()
			delete(m.intervals, st.AccountID)
			m.mu.Unlock()
		}
	}
}

func (m *Manager) startSession(acc models.Account) {
	if err := m.orch.Start(acc); err != nil {
		logger.Error("failed to start session", "account", acc.ID, "error", err)
		m.broadcast(ErrorEvent{Service: "session", Error: err})
		return
	}
	m.mu.Lock()
	m.intervals[acc.ID] = acc.PollInterval()
	m.mu.Unlock()
}

// AddAccount registers a new account, stores its credentials and starts
// polling it. Returns the stored account with its minted ID.
func (m *Manager) AddAccount(acc models.Account, creds models.Credentials) (models.Account, error) {
	stored, err := m.accounts.Add(acc)
	if err != nil {
		return models.Account{}, err
	}
	if err := m.secrets.Save(stored.ID, creds); err != nil {
		// Keep the inventory entry; polling will surface the missing
		// credential as a fetch error.
		logger.Error("failed to store credentials", "account", stored.ID, "error", err)
	}
	// The inventory event triggers syncSessions, but start eagerly so
	// the first fetch does not wait on the event loop.
	if _, running := m.orch.Status(stored.ID); !running {
		m.startSession(stored)
	}
	return stored, nil
}

// RemoveAccount deletes an account, its session, its cached snapshot,
// its alert cooldowns and its stored credentials.
func (m *Manager) RemoveAccount(id string) error {
	if err := m.accounts.Remove(id); err != nil {
		return err
	}
	m.orch.Remove(id)
	m.mu.Lock()
	delete(m.intervals, id)
	m.mu.Unlock()
	if err := m.secrets.Delete(id); err != nil {
		logger.Warn("failed to delete credentials", "account", id, "error", err)
	}
	return nil
}

// Reauthenticate installs fresh credentials for a stuck account and
// resumes polling it.
func (m *Manager) Reauthenticate(id string, creds models.Credentials) error {
	return m.orch.Reauthenticate(id, creds)
}

// FetchNow triggers an immediate fetch for one account.
func (m *Manager) FetchNow(id string) {
	m.orch.FetchNow(id)
}

// FetchAll triggers an immediate fetch for every account.
func (m *Manager) FetchAll() {
	for _, st := range m.orch.AllStatuses() {
		m.orch.FetchNow(st.AccountID)
	}
}

// SetPollInterval changes the polling interval for one account. Zero
// restores the global default.
func (m *Manager) SetPollInterval(id string, interval time.Duration) error {
	return m.accounts.SetPollInterval(id, interval)
}

// Status returns the monitor state for one account.
func (m *Manager) Status(id string) (session.Status, bool) {
	return m.orch.Status(id)
}

// AllStatuses returns the monitor state for every account.
func (m *Manager) AllStatuses() []session.Status {
	return m.orch.AllStatuses()
}

// Accounts returns the inventory service.
func (m *Manager) Accounts() *accounts.Service {
	return m.accounts
}

// GetStats returns aggregated statistics across all sessions.
func (m *Manager) GetStats() StatsEvent {
	stats := StatsEvent{AccountCount: m.accounts.Count()}

	for _, st := range m.orch.AllStatuses() {
		if st.IsFetching {
			stats.FetchingNow++
		}
		if st.NeedsReauth {
			stats.NeedReauth++
		}
		if st.Stale {
			stats.StaleCount++
		}
		if st.Snapshot != nil {
			if f := st.Snapshot.Session.Fraction; f > stats.WorstSession {
				stats.WorstSession = f
			}
			if f := st.Snapshot.Weekly.Fraction; f > stats.WorstWeekly {
				stats.WorstWeekly = f
			}
		}
	}
	return stats
}

// broadcast sends an event to the main channel and all subscribers.
func (m *Manager) broadcast(event ServiceEvent) {
	select {
	case m.eventChan <- event:
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Events returns the main event channel.
func (m *Manager) Events() <-chan ServiceEvent {
	return m.eventChan
}

// Subscribe creates a channel receiving every manager event.
func (m *Manager) Subscribe() chan ServiceEvent {
	ch := make(chan ServiceEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close shuts down event routing, every session and every service.
func (m *Manager) Close() error {
	close(m.stopChan)

	m.mu.Lock()
	for _, sub := range m.subscribers {
		close(sub)
	}
	m.subscribers = nil
	m.mu.Unlock()

	var errs []error
	if err := m.orch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.accounts.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
