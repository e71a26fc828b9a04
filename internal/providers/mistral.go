package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

const mistralUsageURL = "https://api.mistral.ai/v1/usage/limits"

// Mistral fetches workspace token limits with a plain API key.
type Mistral struct {
	hc *http.Client
}

func NewMistral(hc *http.Client) *Mistral {
	return &Mistral{hc: hc}
}

func (c *Mistral) Kind() models.ProviderKind {
	return models.ProviderMistral
}

type mistralLimits struct {
	Daily struct {
		UsedTokens  float64 `json:"used_tokens"`
		LimitTokens float64 `json:"limit_tokens"`
		ResetsAt    string  `json:"resets_at"`
	} `json:"daily"`
	Monthly struct {
		UsedTokens  float64 `json:"used_tokens"`
		LimitTokens float64 `json:"limit_tokens"`
		ResetsAt    string  `json:"resets_at"`
	} `json:"monthly"`
	WorkspaceName string `json:"workspace_name"`
}

func ratio(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return models.ClampFraction(used / limit)
}

func (c *Mistral) Fetch(ctx context.Context, creds models.Credentials) (models.UsageSnapshot, error) {
	if creds.APIKey == "" {
		return models.UsageSnapshot{}, &Error{Provider: "mistral", Kind: KindUnauthorized, Err: errNoCredential}
	}

	var limits mistralLimits
	if err := getJSON(ctx, c.hc, "mistral", mistralUsageURL, bearerHeaders(creds.APIKey), &limits); err != nil {
		return models.UsageSnapshot{}, err
	}

	now := time.Now()
	return models.UsageSnapshot{
		Provider:     models.ProviderMistral,
		FetchedAt:    now,
		AccountLabel: limits.WorkspaceName,
		Session:      axisFromFraction(ratio(limits.Daily.UsedTokens, limits.Daily.LimitTokens), parseResetTime(limits.Daily.ResetsAt), now),
		Weekly:       axisFromFraction(ratio(limits.Monthly.UsedTokens, limits.Monthly.LimitTokens), parseResetTime(limits.Monthly.ResetsAt), now),
	}, nil
}
