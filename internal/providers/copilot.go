package providers

import (
	"context"
	"time"

	"net/http"

	"github.com/quotawatch/quotawatch/internal/models"
)

const copilotUserURL = "https://api.github.com/copilot_internal/user"

// Copilot fetches GitHub Copilot entitlement usage. Copilot tokens are
// long-lived device tokens, so there is no refresh escalation path.
type Copilot struct {
	hc *http.Client
}

func NewCopilot(hc *http.Client) *Copilot {
	return &Copilot{hc: hc}
}

func (c *Copilot) Kind() models.ProviderKind {
	return models.ProviderCopilot
}

type copilotQuota struct {
	Entitlement      float64 `json:"entitlement"`
	Remaining        float64 `json:"remaining"`
	PercentRemaining float64 `json:"percent_remaining"`
	Unlimited        bool    `json:"unlimited"`
}

type copilotUser struct {
	QuotaSnapshots struct {
		Chat                copilotQuota `json:"chat"`
		PremiumInteractions copilotQuota `json:"premium_interactions"`
	} `json:"quota_snapshots"`
	QuotaResetDate string `json:"quota_reset_date"`
	Login          string `json:"login"`
}

func (q copilotQuota) usedFraction() float64 {
	if q.Unlimited {
		return 0
	}
	return models.ClampFraction(1 - q.PercentRemaining/100)
}

func (c *Copilot) Fetch(ctx context.Context, creds models.Credentials) (models.UsageSnapshot, error) {
	token := creds.AccessToken
	if token == "" {
		token = creds.APIKey
	}
	if token == "" {
		return models.UsageSnapshot{}, &Error{Provider: "copilot", Kind: KindUnauthorized, Err: errNoCredential}
	}

	headers := bearerHeaders(token)
	headers["X-GitHub-Api-Version"] = "2025-04-01"

	var user copilotUser
	if err := getJSON(ctx, c.hc, "copilot", copilotUserURL, headers, &user); err != nil {
		return models.UsageSnapshot{}, err
	}

	// quota_reset_date is a bare date; treat end of that day as reset.
	var resetsAt time.Time
	if t, err := time.Parse("2006-01-02", user.QuotaResetDate); err == nil {
		resetsAt = t.Add(24 * time.Hour)
	}

	now := time.Now()
	return models.UsageSnapshot{
		Provider:     models.ProviderCopilot,
		FetchedAt:    now,
		AccountLabel: user.Login,
		Session:      axisFromFraction(user.QuotaSnapshots.Chat.usedFraction(), resetsAt, now),
		Weekly:       axisFromFraction(user.QuotaSnapshots.PremiumInteractions.usedFraction(), resetsAt, now),
		ModelUsage: map[string]float64{
			"premium": user.QuotaSnapshots.PremiumInteractions.usedFraction(),
		},
	}, nil
}
