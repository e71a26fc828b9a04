package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

const (
	openaiUsageURL = "https://chatgpt.com/backend-api/codex/usage"
	openaiTokenURL = "https://auth.openai.com/oauth/token"
	openaiClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
)

// OpenAI fetches ChatGPT/Codex subscription rate-limit usage.
type OpenAI struct {
	hc *http.Client
}

func NewOpenAI(hc *http.Client) *OpenAI {
	return &OpenAI{hc: hc}
}

func (c *OpenAI) Kind() models.ProviderKind {
	return models.ProviderOpenAI
}

type openaiWindow struct {
	UsedPercent   float64 `json:"used_percent"`
	ResetsAt      string  `json:"resets_at"`
	WindowMinutes int     `json:"window_minutes"`
}

type openaiUsage struct {
	RateLimits struct {
		Primary   openaiWindow `json:"primary"`
		Secondary openaiWindow `json:"secondary"`
	} `json:"rate_limits"`
	UserEmail string `json:"user_email"`
}

func (c *OpenAI) Fetch(ctx context.Context, creds models.Credentials) (models.UsageSnapshot, error) {
	if creds.AccessToken == "" {
		return models.UsageSnapshot{}, &Error{Provider: "openai", Kind: KindUnauthorized, Err: errNoCredential}
	}

	var usage openaiUsage
	if err := getJSON(ctx, c.hc, "openai", openaiUsageURL, bearerHeaders(creds.AccessToken), &usage); err != nil {
		return models.UsageSnapshot{}, err
	}

	now := time.Now()
	return models.UsageSnapshot{
		Provider:     models.ProviderOpenAI,
		FetchedAt:    now,
		AccountLabel: usage.UserEmail,
		Session:      axisFromFraction(usage.RateLimits.Primary.UsedPercent/100, parseResetTime(usage.RateLimits.Primary.ResetsAt), now),
		Weekly:       axisFromFraction(usage.RateLimits.Secondary.UsedPercent/100, parseResetTime(usage.RateLimits.Secondary.ResetsAt), now),
	}, nil
}

// RefreshToken implements TokenRefresher.
func (c *OpenAI) RefreshToken(ctx context.Context, creds models.Credentials) (models.Credentials, error) {
	form := url.Values{}
	form.Set("client_id", openaiClientID)
	form.Set("refresh_token", creds.RefreshToken)
	return refreshGrant(ctx, c.hc, "openai", openaiTokenURL, form)
}
