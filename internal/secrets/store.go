// Package secrets persists credential bundles outside the account
// inventory file, keyed by account id.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/quotawatch/quotawatch/internal/models"
)

// ErrNotFound is returned when no credentials exist for an account.
var ErrNotFound = errors.New("credentials not found")

// Store saves and loads credential bundles.
type Store interface {
	Save(accountID string, creds models.Credentials) error
	Load(accountID string) (models.Credentials, error)
	Delete(accountID string) error
}

// keyringService namespaces our entries in the system keychain.
const keyringService = "quotawatch"

// Keyring stores credentials in the OS keychain.
type Keyring struct{}

// NewKeyring returns the system-keychain store.
func NewKeyring() *Keyring {
	return &Keyring{}
}

func (k *Keyring) Save(accountID string, creds models.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := keyring.Set(keyringService, accountID, string(data)); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (k *Keyring) Load(accountID string) (models.Credentials, error) {
	data, err := keyring.Get(keyringService, accountID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return models.Credentials{}, ErrNotFound
		}
		return models.Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	var creds models.Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return models.Credentials{}, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return creds, nil
}

func (k *Keyring) Delete(accountID string) error {
	if err := keyring.Delete(keyringService, accountID); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// Memory is an in-process store used in tests and as a fallback when
// no keychain is available.
type Memory struct {
	mu    sync.RWMutex
	creds map[string]models.Credentials
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{creds: make(map[string]models.Credentials)}
}

func (m *Memory) Save(accountID string, creds models.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[accountID] = creds
	return nil
}

func (m *Memory) Load(accountID string) (models.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	creds, ok := m.creds[accountID]
	if !ok {
		return models.Credentials{}, ErrNotFound
	}
	return creds, nil
}

func (m *Memory) Delete(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, accountID)
	return nil
}
