package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

const (
	geminiQuotaURL     = "https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels"
	googleOAuthURL     = "https://oauth2.googleapis.com/token"
	geminiClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiClientSecret = "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"
)

// Gemini fetches per-model quota fractions from the Cloud Code API.
// The endpoint has no aggregate window, so the session axis carries the
// most exhausted model family and the weekly axis stays unknown.
type Gemini struct {
	hc *http.Client
}

func NewGemini(hc *http.Client) *Gemini {
	return &Gemini{hc: hc}
}

func (c *Gemini) Kind() models.ProviderKind {
	return models.ProviderGemini
}

type geminiModels struct {
	Models map[string]struct {
		DisplayName string `json:"displayName"`
		QuotaInfo   struct {
			RemainingFraction float64 `json:"remainingFraction"`
			ResetTime         string  `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

func (c *Gemini) Fetch(ctx context.Context, creds models.Credentials) (models.UsageSnapshot, error) {
	if creds.AccessToken == "" {
		return models.UsageSnapshot{}, &Error{Provider: "gemini", Kind: KindUnauthorized, Err: errNoCredential}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, geminiQuotaURL, strings.NewReader("{}"))
	if err != nil {
		return models.UsageSnapshot{}, &Error{Provider: "gemini", Kind: KindOther, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	var resp geminiModels
	if err := doJSON(c.hc, "gemini", req, &resp); err != nil {
		return models.UsageSnapshot{}, err
	}

	now := time.Now()
	var worst float64
	var worstReset time.Time
	modelUsage := make(map[string]float64, len(resp.Models))
	for name, m := range resp.Models {
		used := models.ClampFraction(1 - m.QuotaInfo.RemainingFraction)
		modelUsage[modelFamily(name)] = used
		if used >= worst {
			worst = used
			worstReset = parseResetTime(m.QuotaInfo.ResetTime)
		}
	}

	snap := models.UsageSnapshot{
		Provider:  models.ProviderGemini,
		FetchedAt: now,
		Session:   axisFromFraction(worst, worstReset, now),
		Weekly:    models.AxisUsage{ResetState: models.ResetUnknown},
	}
	if len(modelUsage) > 0 {
		snap.ModelUsage = modelUsage
	}
	return snap, nil
}

func modelFamily(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "claude"):
		return "claude"
	case strings.Contains(lower, "gemini"):
		return "gemini"
	default:
		return lower
	}
}

// RefreshToken implements TokenRefresher via the Google OAuth endpoint.
func (c *Gemini) RefreshToken(ctx context.Context, creds models.Credentials) (models.Credentials, error) {
	form := url.Values{}
	form.Set("client_id", geminiClientID)
	form.Set("client_secret", geminiClientSecret)
	form.Set("refresh_token", creds.RefreshToken)
	return refreshGrant(ctx, c.hc, "gemini", googleOAuthURL, form)
}
