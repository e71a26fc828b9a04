package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

// MockRoundTripper implements http.RoundTripper for testing.
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func mockClient(fn func(req *http.Request) (*http.Response, error)) *http.Client {
	return &http.Client{Transport: &MockRoundTripper{RoundTripFunc: fn}}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"Unauthorized", 401, KindUnauthorized},
		{"Forbidden", 403, KindUnauthorized},
		{"RateLimited", 429, KindRateLimited},
		{"ServerError", 503, KindNetwork},
		{"ClientError", 400, KindOther},
		{"NotFound", 404, KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusError("x", tt.status).Kind; got != tt.want {
				t.Errorf("statusError(%d).Kind = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestKindHelpers(t *testing.T) {
	netErr := &Error{Provider: "x", Kind: KindNetwork}
	if !IsRetryable(netErr) {
		t.Error("network error should be retryable")
	}
	if !IsRetryable(&Error{Kind: KindRateLimited}) {
		t.Error("rate-limited error should be retryable")
	}
	if IsRetryable(&Error{Kind: KindUnauthorized}) {
		t.Error("auth error must not be retried by the policy")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("untyped error should not be retryable")
	}
	if !IsUnauthorized(&Error{Kind: KindUnauthorized}) {
		t.Error("IsUnauthorized should match typed auth errors")
	}

	wrapped := errors.Join(errors.New("context"), netErr)
	if KindOf(wrapped) != KindNetwork {
		t.Error("KindOf should see through wrapping")
	}
}

func TestAnthropicFetch(t *testing.T) {
	hc := mockClient(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		return jsonResponse(200, `{
			"five_hour": {"utilization": 43.5, "resets_at": "2026-01-02T15:00:00Z"},
			"seven_day": {"utilization": 112.0, "resets_at": "2026-01-05T00:00:00Z"},
			"account": {"email": "me@example.com"}
		}`), nil
	})

	snap, err := NewAnthropic(hc).Fetch(context.Background(), models.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if snap.Session.Fraction != 0.435 {
		t.Errorf("session fraction = %v, want 0.435", snap.Session.Fraction)
	}
	if snap.Weekly.Fraction != 1.0 {
		t.Errorf("weekly fraction = %v, want clamped 1.0", snap.Weekly.Fraction)
	}
	if snap.AccountLabel != "me@example.com" {
		t.Errorf("account label = %q", snap.AccountLabel)
	}
	if snap.Session.ResetState != models.ResetCounting {
		t.Errorf("session reset state = %v", snap.Session.ResetState)
	}
}

func TestAnthropicFetchErrors(t *testing.T) {
	tests := []struct {
		name     string
		creds    models.Credentials
		response *http.Response
		netErr   error
		want     ErrorKind
	}{
		{
			name:  "NoCredential",
			creds: models.Credentials{},
			want:  KindUnauthorized,
		},
		{
			name:     "Expired",
			creds:    models.Credentials{AccessToken: "tok"},
			response: jsonResponse(401, `{"error":"expired"}`),
			want:     KindUnauthorized,
		},
		{
			name:     "RateLimited",
			creds:    models.Credentials{AccessToken: "tok"},
			response: jsonResponse(429, `slow down`),
			want:     KindRateLimited,
		},
		{
			name:   "Network",
			creds:  models.Credentials{AccessToken: "tok"},
			netErr: errors.New("connection refused"),
			want:   KindNetwork,
		},
		{
			name:     "Malformed",
			creds:    models.Credentials{AccessToken: "tok"},
			response: jsonResponse(200, `not json`),
			want:     KindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := mockClient(func(req *http.Request) (*http.Response, error) {
				if tt.netErr != nil {
					return nil, tt.netErr
				}
				return tt.response, nil
			})
			_, err := NewAnthropic(hc).Fetch(context.Background(), tt.creds)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenAIFetchNormalizes(t *testing.T) {
	hc := mockClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{
			"rate_limits": {
				"primary": {"used_percent": 0, "resets_at": ""},
				"secondary": {"used_percent": 55.0, "resets_at": "2026-01-08T00:00:00Z"}
			},
			"user_email": "dev@example.com"
		}`), nil
	})

	snap, err := NewOpenAI(hc).Fetch(context.Background(), models.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !snap.Session.Ready() {
		t.Errorf("zero-usage session with no pending reset should be ready, got %+v", snap.Session)
	}
	if snap.Weekly.Fraction != 0.55 {
		t.Errorf("weekly fraction = %v, want 0.55", snap.Weekly.Fraction)
	}
}

func TestRefreshGrant(t *testing.T) {
	tests := []struct {
		name     string
		response *http.Response
		netErr   error
		wantErr  bool
		wantKind ErrorKind
	}{
		{
			name:     "Success",
			response: jsonResponse(200, `{"access_token":"new","refresh_token":"next","expires_in":3600}`),
		},
		{
			name:     "Rejected",
			response: jsonResponse(400, `{"error":"invalid_grant"}`),
			wantErr:  true,
			wantKind: KindUnauthorized,
		},
		{
			name:     "Network",
			netErr:   errors.New("dial tcp: timeout"),
			wantErr:  true,
			wantKind: KindNetwork,
		},
		{
			name:     "MissingToken",
			response: jsonResponse(200, `{}`),
			wantErr:  true,
			wantKind: KindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := mockClient(func(req *http.Request) (*http.Response, error) {
				if tt.netErr != nil {
					return nil, tt.netErr
				}
				if err := req.ParseForm(); err == nil {
					if got := req.PostForm.Get("grant_type"); got != "refresh_token" {
						t.Errorf("grant_type = %q", got)
					}
				}
				return tt.response, nil
			})

			creds, err := NewAnthropic(hc).RefreshToken(context.Background(), models.Credentials{RefreshToken: "old"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if got := KindOf(err); got != tt.wantKind {
					t.Errorf("KindOf = %v, want %v", got, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("RefreshToken failed: %v", err)
			}
			if creds.AccessToken != "new" || creds.RefreshToken != "next" {
				t.Errorf("unexpected credentials: %+v", creds)
			}
			if creds.ExpiresAt.IsZero() {
				t.Error("ExpiresAt should be set from expires_in")
			}
		})
	}
}

func TestRegistryCoversAllKinds(t *testing.T) {
	for _, kind := range models.AllProviderKinds() {
		client, err := New(kind, nil)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", kind, err)
		}
		if client.Kind() != kind {
			t.Errorf("client.Kind() = %v, want %v", client.Kind(), kind)
		}
	}
	if _, err := New("nonsense", nil); err == nil {
		t.Error("unknown kind should error")
	}
}

func TestClientTimeoutClassifiedAsNetwork(t *testing.T) {
	// A Client.Timeout expiry surfaces as a deadline error even though
	// the request context itself was never cancelled. It must come
	// back typed as a transient network failure, not pass through raw.
	hc := &http.Client{
		Transport: &MockRoundTripper{RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		}},
		Timeout: 20 * time.Millisecond,
	}
	client := NewOpenRouter(hc)

	_, err := client.Fetch(context.Background(), models.Credentials{APIKey: "key"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := KindOf(err); got != KindNetwork {
		t.Errorf("KindOf = %v, want network (err: %v)", got, err)
	}
	if !IsRetryable(err) {
		t.Error("client timeout must be retryable")
	}
}

func TestCancelledContextPassesThroughUntyped(t *testing.T) {
	hc := mockClient(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	client := NewOpenRouter(hc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, models.Credentials{APIKey: "key"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in chain", err)
	}
	if got := KindOf(err); got != KindOther {
		t.Errorf("KindOf = %v, want other (cancellation is not a provider fault)", got)
	}
}
