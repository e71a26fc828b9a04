package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

// tokenResponse is the common OAuth token-endpoint response shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// refreshGrant exchanges a refresh token for new credentials at the
// given token endpoint. A failed exchange is always an authentication
// failure from the coordinator's point of view, except pure transport
// errors which stay retryable.
func refreshGrant(ctx context.Context, hc *http.Client, provider, tokenURL string, form url.Values) (models.Credentials, error) {
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.Credentials{}, &Error{Provider: provider, Kind: KindOther, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return models.Credentials{}, &Error{Provider: provider, Kind: KindNetwork, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Credentials{}, &Error{Provider: provider, Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return models.Credentials{}, &Error{
			Provider: provider,
			Kind:     KindUnauthorized,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("token refresh rejected: %s", firstLine(string(body))),
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return models.Credentials{}, &Error{Provider: provider, Kind: KindMalformed, Err: err}
	}
	if tok.AccessToken == "" {
		return models.Credentials{}, &Error{
			Provider: provider,
			Kind:     KindMalformed,
			Err:      fmt.Errorf("token response missing access_token"),
		}
	}

	creds := models.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if tok.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return creds, nil
}
