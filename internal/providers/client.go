// Package providers contains the per-backend usage clients. Each
// client is a thin HTTP wrapper that returns a normalized snapshot
// or a typed *Error; everything resilient lives in the session layer.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

// Client fetches a normalized usage snapshot for one provider kind.
type Client interface {
	Kind() models.ProviderKind
	Fetch(ctx context.Context, creds models.Credentials) (models.UsageSnapshot, error)
}

// TokenRefresher is implemented by clients whose backend issues
// OAuth-style refresh tokens. API-key providers do not implement it.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, creds models.Credentials) (models.Credentials, error)
}

// defaultHTTPClient is used when the caller does not inject one.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// New returns the client for the given provider kind. A nil httpClient
// selects a default with a 30s timeout; tests inject mock transports.
func New(kind models.ProviderKind, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	switch kind {
	case models.ProviderAnthropic:
		return NewAnthropic(httpClient), nil
	case models.ProviderOpenAI:
		return NewOpenAI(httpClient), nil
	case models.ProviderGemini:
		return NewGemini(httpClient), nil
	case models.ProviderCopilot:
		return NewCopilot(httpClient), nil
	case models.ProviderMistral:
		return NewMistral(httpClient), nil
	case models.ProviderOpenRouter:
		return NewOpenRouter(httpClient), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
