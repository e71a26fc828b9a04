package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// getJSON performs an authenticated GET and decodes the body into out,
// classifying every failure mode into a typed *Error.
func getJSON(ctx context.Context, hc *http.Client, provider, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Provider: provider, Kind: KindOther, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(hc, provider, req, out)
}

// doJSON executes req and decodes a JSON body into out.
func doJSON(hc *http.Client, provider string, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		// Cancellation of the request context is not a provider fault;
		// pass it through so the session layer can tell the two apart.
		// Only the context itself is a reliable signal here: a
		// Client.Timeout expiry also reports itself as a deadline
		// error, and that one is a transient network failure.
		if req.Context().Err() != nil {
			return err
		}
		return &Error{Provider: provider, Kind: KindNetwork, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Provider: provider, Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		e := statusError(provider, resp.StatusCode)
		e.Err = fmt.Errorf("%s", strings.TrimSpace(firstLine(string(body))))
		return e
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Provider: provider, Kind: KindMalformed, Err: err}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

// axisFromFraction normalizes one usage axis. A zero fraction with no
// pending reset means the window is usable now.
func axisFromFraction(fraction float64, resetsAt time.Time, now time.Time) models.AxisUsage {
	u := models.AxisUsage{
		Fraction: models.ClampFraction(fraction),
		ResetsAt: resetsAt,
	}
	switch {
	case u.Fraction == 0 && (resetsAt.IsZero() || !resetsAt.After(now)):
		u.ResetState = models.ResetReady
		u.ResetDisplay = "Ready"
	case resetsAt.IsZero():
		u.ResetState = models.ResetUnknown
	default:
		u.ResetState = models.ResetCounting
		u.ResetDisplay = formatReset(resetsAt, now)
	}
	return u
}

// formatReset renders a human-readable countdown like "2h15m".
func formatReset(resetsAt, now time.Time) string {
	d := resetsAt.Sub(now)
	if d <= 0 {
		return "Ready"
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd%dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// parseResetTime parses an RFC3339 reset timestamp, tolerating absence.
func parseResetTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func bearerHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
