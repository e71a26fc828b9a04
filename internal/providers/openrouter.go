package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

const openrouterKeyURL = "https://openrouter.ai/api/v1/auth/key"

// OpenRouter fetches credit usage for an API key. Credits have no
// rolling window, so the spent fraction lands on the weekly axis and
// the session axis stays unknown.
type OpenRouter struct {
	hc *http.Client
}

func NewOpenRouter(hc *http.Client) *OpenRouter {
	return &OpenRouter{hc: hc}
}

func (c *OpenRouter) Kind() models.ProviderKind {
	return models.ProviderOpenRouter
}

type openrouterKey struct {
	Data struct {
		Label          string   `json:"label"`
		Usage          float64  `json:"usage"`
		Limit          *float64 `json:"limit"`
		LimitRemaining *float64 `json:"limit_remaining"`
		IsFreeTier     bool     `json:"is_free_tier"`
	} `json:"data"`
}

func (c *OpenRouter) Fetch(ctx context.Context, creds models.Credentials) (models.UsageSnapshot, error) {
	if creds.APIKey == "" {
		return models.UsageSnapshot{}, &Error{Provider: "openrouter", Kind: KindUnauthorized, Err: errNoCredential}
	}

	var key openrouterKey
	if err := getJSON(ctx, c.hc, "openrouter", openrouterKeyURL, bearerHeaders(creds.APIKey), &key); err != nil {
		return models.UsageSnapshot{}, err
	}

	var spent float64
	if key.Data.Limit != nil && *key.Data.Limit > 0 {
		spent = models.ClampFraction(key.Data.Usage / *key.Data.Limit)
	}

	now := time.Now()
	return models.UsageSnapshot{
		Provider:     models.ProviderOpenRouter,
		FetchedAt:    now,
		AccountLabel: key.Data.Label,
		Session:      models.AxisUsage{ResetState: models.ResetUnknown},
		Weekly:       axisFromFraction(spent, time.Time{}, now),
	}, nil
}
