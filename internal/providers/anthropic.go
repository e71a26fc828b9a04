package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

const (
	anthropicUsageURL = "https://api.anthropic.com/api/oauth/usage"
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
)

// Anthropic fetches Claude subscription usage via the OAuth HTTP API.
type Anthropic struct {
	hc *http.Client
}

func NewAnthropic(hc *http.Client) *Anthropic {
	return &Anthropic{hc: hc}
}

func (c *Anthropic) Kind() models.ProviderKind {
	return models.ProviderAnthropic
}

// anthropicUsage is the wire shape of the usage endpoint.
type anthropicUsage struct {
	FiveHour struct {
		Utilization float64 `json:"utilization"`
		ResetsAt    string  `json:"resets_at"`
	} `json:"five_hour"`
	SevenDay struct {
		Utilization float64 `json:"utilization"`
		ResetsAt    string  `json:"resets_at"`
	} `json:"seven_day"`
	SevenDayOpus *struct {
		Utilization float64 `json:"utilization"`
	} `json:"seven_day_opus,omitempty"`
	Account struct {
		Email string `json:"email"`
	} `json:"account"`
}

func (c *Anthropic) Fetch(ctx context.Context, creds models.Credentials) (models.UsageSnapshot, error) {
	if creds.AccessToken == "" {
		return models.UsageSnapshot{}, &Error{Provider: "anthropic", Kind: KindUnauthorized, Err: errNoCredential}
	}

	headers := bearerHeaders(creds.AccessToken)
	headers["anthropic-beta"] = "oauth-2025-04-20"

	var usage anthropicUsage
	if err := getJSON(ctx, c.hc, "anthropic", anthropicUsageURL, headers, &usage); err != nil {
		return models.UsageSnapshot{}, err
	}

	now := time.Now()
	snap := models.UsageSnapshot{
		Provider:     models.ProviderAnthropic,
		FetchedAt:    now,
		AccountLabel: usage.Account.Email,
		Session:      axisFromFraction(usage.FiveHour.Utilization/100, parseResetTime(usage.FiveHour.ResetsAt), now),
		Weekly:       axisFromFraction(usage.SevenDay.Utilization/100, parseResetTime(usage.SevenDay.ResetsAt), now),
	}
	if usage.SevenDayOpus != nil {
		snap.ModelUsage = map[string]float64{
			"opus": models.ClampFraction(usage.SevenDayOpus.Utilization / 100),
		}
	}
	return snap, nil
}

// RefreshToken implements TokenRefresher via the console token endpoint.
func (c *Anthropic) RefreshToken(ctx context.Context, creds models.Credentials) (models.Credentials, error) {
	form := url.Values{}
	form.Set("client_id", anthropicClientID)
	form.Set("refresh_token", creds.RefreshToken)
	return refreshGrant(ctx, c.hc, "anthropic", anthropicTokenURL, form)
}
