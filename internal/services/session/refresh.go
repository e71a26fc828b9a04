package session

import (
	"context"
	"fmt"

	"github.com/quotawatch/quotawatch/internal/logger"
	"github.com/quotawatch/quotawatch/internal/models"
	"github.com/quotawatch/quotawatch/internal/providers"
)

// RefreshOutcome is the result of the auth-failure escalation path.
type RefreshOutcome int

const (
	// RefreshRetried means new credentials were obtained and exactly
	// one retried fetch should follow.
	RefreshRetried RefreshOutcome = iota
	// RefreshReauthRequired means the account is now in the sticky
	// needs-reauthentication state.
	RefreshReauthRequired
)

// handleAuthFailure is the credential refresh coordinator. Called once
// per failed fetch cycle, never in a loop. With no refresh credential
// (or a provider that issues none) the account transitions straight to
// needs-reauthentication; otherwise the refresh token is exchanged and
// persisted before signalling the caller to retry.
func (o *Orchestrator) handleAuthFailure(ctx context.Context, s *session, acc models.Account, creds models.Credentials, authErr error) (models.Credentials, RefreshOutcome) {
	refresher, ok := s.client.(providers.TokenRefresher)
	if !ok || creds.RefreshToken == "" {
		o.markNeedsReauth(s, acc, authErr)
		return models.Credentials{}, RefreshReauthRequired
	}

	newCreds, err := refresher.RefreshToken(ctx, creds)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-refresh; the cycle is being abandoned, so
			// the account state stays untouched.
			return models.Credentials{}, RefreshReauthRequired
		}
		o.markNeedsReauth(s, acc, fmt.Errorf("token refresh failed: %w", err))
		return models.Credentials{}, RefreshReauthRequired
	}

	// Providers may rotate or omit the refresh token; keep the old one
	// when none came back.
	if newCreds.RefreshToken == "" {
		newCreds.RefreshToken = creds.RefreshToken
	}
	newCreds.APIKey = creds.APIKey

	if err := o.deps.Secrets.Save(acc.ID, newCreds); err != nil {
		logger.Error("failed to persist refreshed credentials", "account", acc.ID, "error", err)
	}

	logger.Info("access token refreshed", "account", acc.ID, "provider", acc.Provider)
	o.sendEvent(Event{Type: EventTokenRefreshed, AccountID: acc.ID})
	return newCreds, RefreshRetried
}

// markNeedsReauth transitions the account into the sticky
// needs-reauthentication state. Idempotent: re-entering the state
// never duplicates the user-visible notification.
func (o *Orchestrator) markNeedsReauth(s *session, acc models.Account, cause error) {
	s.mu.Lock()
	alreadyNotified := s.reauthed
	s.account.NeedsReauth = true
	s.reauthed = true
	s.lastErr = cause
	label := s.account.Label()
	s.mu.Unlock()

	if alreadyNotified {
		return
	}

	if err := o.deps.Accounts.SetNeedsReauth(acc.ID, true); err != nil {
		logger.Warn("failed to persist reauth state", "account", acc.ID, "error", err)
	}

	logger.Warn("account needs re-authentication",
		"account", acc.ID, "provider", acc.Provider, "cause", cause)
	o.deps.Alerts.TrySend(acc.ID, models.AlertReauth,
		fmt.Sprintf("Re-authentication Needed: %s", label),
		fmt.Sprintf("Sign in to %s again to resume usage monitoring.", acc.Provider))
	o.sendEvent(Event{Type: EventReauthRequired, AccountID: acc.ID, Error: cause})
}
