// Package models defines data structures and domain types.
package models

import "time"

// ProviderKind identifies one of the supported usage backends.
type ProviderKind string

// Supported provider kinds.
const (
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderOpenAI     ProviderKind = "openai"
	ProviderGemini     ProviderKind = "gemini"
	ProviderCopilot    ProviderKind = "copilot"
	ProviderMistral    ProviderKind = "mistral"
	ProviderOpenRouter ProviderKind = "openrouter"
)

// AllProviderKinds returns every supported provider kind.
func AllProviderKinds() []ProviderKind {
	return []ProviderKind{
		ProviderAnthropic,
		ProviderOpenAI,
		ProviderGemini,
		ProviderCopilot,
		ProviderMistral,
		ProviderOpenRouter,
	}
}

// Valid reports whether k is a known provider kind.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini,
		ProviderCopilot, ProviderMistral, ProviderOpenRouter:
		return true
	}
	return false
}

// Credentials is the opaque credential bundle for one account.
// The core never inspects token contents; providers and the refresh
// coordinator are the only consumers.
type Credentials struct {
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	APIKey       string    `json:"apiKey,omitempty"`
}

// Empty reports whether the bundle holds no usable credential.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && c.APIKey == ""
}

// Account represents one monitored account on a provider.
// Credential material is kept in the secret store, keyed by ID;
// the account record itself only carries inventory metadata.
type Account struct {
	AddedAt         time.Time    `json:"addedAt,omitzero"`
	ID              string       `json:"id"`
	Provider        ProviderKind `json:"provider"`
	DisplayName     string       `json:"displayName,omitempty"`
	PollIntervalSec int          `json:"pollIntervalSeconds,omitempty"`
	NeedsReauth     bool         `json:"needsReauth,omitempty"`
}

// Clone returns a copy of the account.
func (a *Account) Clone() Account {
	return *a
}

// PollInterval returns the per-account poll interval override, or zero
// when the account uses the global default.
func (a *Account) PollInterval() time.Duration {
	if a.PollIntervalSec <= 0 {
		return 0
	}
	return time.Duration(a.PollIntervalSec) * time.Second
}

// Label returns the display name, falling back to the provider kind
// plus a short id prefix when no name has been populated yet.
func (a *Account) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	id := a.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return string(a.Provider) + "/" + id
}
