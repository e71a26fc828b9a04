// Package accounts manages the monitored-account inventory with file
// watching and persistence.
package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/quotawatch/quotawatch/internal/logger"
	"github.com/quotawatch/quotawatch/internal/models"
)

// inventoryFile is the JSON structure of the accounts file on disk.
type inventoryFile struct {
	Accounts []models.Account `json:"accounts"`
	Version  int              `json:"version,omitempty"`
}

// Event represents an inventory change.
type Event struct {
	Error   error
	Account *models.Account
	Type    EventType
}

// EventType defines the type of inventory event.
type EventType int

const (
	EventLoaded EventType = iota
	EventChanged
	EventAdded
	EventUpdated
	EventRemoved
	EventError
)

// Service owns the account inventory. Mutations persist to a JSON file;
// external edits to that file are picked up through a watcher and
// surfaced as EventChanged.
type Service struct {
	mu            sync.RWMutex
	accounts      []models.Account
	filePath      string
	watcher       *fsnotify.Watcher
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
}

// New creates the inventory service, loads (or creates) the accounts
// file, and starts watching it for external edits.
func New(filePath string) (*Service, error) {
	if filePath == "" {
		return nil, fmt.Errorf("accounts file path is required")
	}

	s := &Service{
		accounts:  make([]models.Account, 0),
		filePath:  filePath,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := s.load(); err != nil {
		if os.IsNotExist(err) {
			if err := s.save(); err != nil {
				return nil, fmt.Errorf("failed to create accounts file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
	}

	if err := s.startWatcher(); err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.sendEvent(Event{Type: EventLoaded})
	return s, nil
}

// Events returns the event channel for subscribing to inventory changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// List returns a copy of all accounts.
func (s *Service) List() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.accounts, func(acc models.Account, _ int) models.Account {
		return acc.Clone()
	})
}

// Get returns the account with the given ID, or nil.
func (s *Service) Get(id string) *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if s.accounts[i].ID == id {
			acc := s.accounts[i].Clone()
			return &acc
		}
	}
	return nil
}

// Count returns the number of accounts.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Add registers a new account. A missing ID is minted; the provider
// must be one of the supported kinds. Returns the stored account.
func (s *Service) Add(account models.Account) (models.Account, error) {
	if !account.Provider.Valid() {
		return models.Account{}, fmt.Errorf("unsupported provider: %s", account.Provider)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == "" {
		account.ID = uuid.NewString()
	} else {
		for _, acc := range s.accounts {
			if acc.ID == account.ID {
				return models.Account{}, fmt.Errorf("account %s already exists", account.ID)
			}
		}
	}
	if account.AddedAt.IsZero() {
		account.AddedAt = time.Now()
	}

	s.accounts = append(s.accounts, account)
	if err := s.saveLocked(); err != nil {
		// Rollback
		s.accounts = s.accounts[:len(s.accounts)-1]
		return models.Account{}, fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAdded, Account: &account})
	return account, nil
}

// Update replaces an existing account, matching by ID. AddedAt is
// preserved when the caller leaves it zero.
func (s *Service) Update(account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, acc := range s.accounts {
		if acc.ID != account.ID {
			continue
		}
		if account.AddedAt.IsZero() {
			account.AddedAt = acc.AddedAt
		}
		prev := s.accounts[i]
		s.accounts[i] = account
		if err := s.saveLocked(); err != nil {
			s.accounts[i] = prev
			return fmt.Errorf("failed to save accounts: %w", err)
		}
		s.sendEvent(Event{Type: EventUpdated, Account: &account})
		return nil
	}
	return fmt.Errorf("account not found: %s", account.ID)
}

// Remove deletes an account by ID.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, idx, found := lo.FindIndexOf(s.accounts, func(acc models.Account) bool {
		return acc.ID == id
	})
	if !found {
		return fmt.Errorf("account not found: %s", id)
	}

	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)
	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventRemoved, Account: &deleted})
	return nil
}

// UpdateDisplayName sets the human-readable label of an account.
func (s *Service) UpdateDisplayName(id, name string) error {
	return s.mutate(id, func(acc *models.Account) {
		acc.DisplayName = name
	})
}

// SetNeedsReauth flips the persisted needs-reauthentication flag.
func (s *Service) SetNeedsReauth(id string, needs bool) error {
	return s.mutate(id, func(acc *models.Account) {
		acc.NeedsReauth = needs
	})
}

// SetPollInterval changes the per-account polling interval. Zero means
// the global default applies.
func (s *Service) SetPollInterval(id string, interval time.Duration) error {
	return s.mutate(id, func(acc *models.Account) {
		acc.PollIntervalSec = int(interval / time.Second)
	})
}

// mutate applies fn to the account with the given ID and persists the
// result. The update event carries the mutated account.
func (s *Service) mutate(id string, fn func(*models.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.accounts {
		if s.accounts[i].ID != id {
			continue
		}
		prev := s.accounts[i]
		fn(&s.accounts[i])
		if err := s.saveLocked(); err != nil {
			s.accounts[i] = prev
			return fmt.Errorf("failed to save accounts: %w", err)
		}
		updated := s.accounts[i].Clone()
		s.sendEvent(Event{Type: EventUpdated, Account: &updated})
		return nil
	}
	return fmt.Errorf("account not found: %s", id)
}

// parseInventory parses the accounts file, accepting both the versioned
// envelope and a legacy bare array.
func parseInventory(data []byte) ([]models.Account, error) {
	var file inventoryFile
	if err := json.Unmarshal(data, &file); err == nil && file.Accounts != nil {
		return file.Accounts, nil
	}

	var accounts []models.Account
	if err := json.Unmarshal(data, &accounts); err == nil {
		return accounts, nil
	}

	return nil, fmt.Errorf("failed to parse accounts file: invalid format")
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	accounts, err := parseInventory(data)
	if err != nil {
		return err
	}

	s.accounts = accounts
	return nil
}

func (s *Service) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the inventory atomically (must hold lock).
func (s *Service) saveLocked() error {
	file := inventoryFile{
		Accounts: s.accounts,
		Version:  1,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	// Write to temp file first, then rename
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// startWatcher starts the file system watcher.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory (to catch file creation/deletion)
	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(s.filePath) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce rapid changes
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, func() {
					s.handleFileChange()
				})
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads the inventory after an external edit.
func (s *Service) handleFileChange() {
	s.mu.Lock()
	err := func() error {
		data, readErr := os.ReadFile(s.filePath)
		if readErr != nil {
			return readErr
		}
		accounts, parseErr := parseInventory(data)
		if parseErr != nil {
			return parseErr
		}
		s.accounts = accounts
		return nil
	}()
	s.mu.Unlock()

	if err != nil {
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}
	s.sendEvent(Event{Type: EventChanged})
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	close(s.stopChan)

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
