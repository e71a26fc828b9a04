package accounts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, path
}

func TestNewCreatesFile(t *testing.T) {
	_, path := newTestService(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("accounts file not created: %v", err)
	}
	var file inventoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("created file is not valid JSON: %v", err)
	}
	if file.Version != 1 {
		t.Errorf("version = %d, want 1", file.Version)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestAddMintsID(t *testing.T) {
	s, _ := newTestService(t)

	stored, err := s.Add(models.Account{Provider: models.ProviderAnthropic})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if stored.ID == "" {
		t.Error("Add should mint an ID")
	}
	if stored.AddedAt.IsZero() {
		t.Error("Add should stamp AddedAt")
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestAddRejectsUnknownProvider(t *testing.T) {
	s, _ := newTestService(t)

	if _, err := s.Add(models.Account{Provider: "frontier"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if s.Count() != 0 {
		t.Error("failed Add must not store anything")
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s, _ := newTestService(t)

	if _, err := s.Add(models.Account{ID: "a1", Provider: models.ProviderOpenAI}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.Add(models.Account{ID: "a1", Provider: models.ProviderGemini}); err == nil {
		t.Error("expected error for duplicate ID")
	}
}

func TestAddAllowsSameProviderTwice(t *testing.T) {
	s, _ := newTestService(t)

	a, err := s.Add(models.Account{Provider: models.ProviderAnthropic, DisplayName: "work"})
	if err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	b, err := s.Add(models.Account{Provider: models.ProviderAnthropic, DisplayName: "personal"})
	if err != nil {
		t.Fatalf("second Add failed: %v", err)
	}
	if a.ID == b.ID {
		t.Error("two accounts on the same provider must get distinct IDs")
	}
}

func TestGet(t *testing.T) {
	s, _ := newTestService(t)
	stored, _ := s.Add(models.Account{Provider: models.ProviderMistral, DisplayName: "team"})

	got := s.Get(stored.ID)
	if got == nil {
		t.Fatal("Get returned nil for existing account")
	}
	if got.DisplayName != "team" {
		t.Errorf("DisplayName = %q, want team", got.DisplayName)
	}

	// Returned copy must not alias internal state.
	got.DisplayName = "mutated"
	if s.Get(stored.ID).DisplayName != "team" {
		t.Error("Get must return a copy")
	}

	if s.Get("nope") != nil {
		t.Error("Get for unknown ID should return nil")
	}
}

func TestUpdate(t *testing.T) {
	s, _ := newTestService(t)
	stored, _ := s.Add(models.Account{Provider: models.ProviderCopilot})

	stored.DisplayName = "renamed"
	stored.PollIntervalSec = 120
	stored.AddedAt = time.Time{}
	if err := s.Update(stored); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got := s.Get(stored.ID)
	if got.DisplayName != "renamed" || got.PollIntervalSec != 120 {
		t.Errorf("updated account = %+v", got)
	}
	if got.AddedAt.IsZero() {
		t.Error("Update should preserve AddedAt when left zero")
	}

	if err := s.Update(models.Account{ID: "missing"}); err == nil {
		t.Error("expected error updating unknown account")
	}
}

func TestRemove(t *testing.T) {
	s, _ := newTestService(t)
	a, _ := s.Add(models.Account{Provider: models.ProviderOpenAI})
	b, _ := s.Add(models.Account{Provider: models.ProviderGemini})

	if err := s.Remove(a.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
	if s.Get(a.ID) != nil {
		t.Error("removed account still present")
	}
	if s.Get(b.ID) == nil {
		t.Error("unrelated account lost")
	}

	if err := s.Remove(a.ID); err == nil {
		t.Error("expected error removing unknown account")
	}
}

func TestSetNeedsReauth(t *testing.T) {
	s, path := newTestService(t)
	stored, _ := s.Add(models.Account{Provider: models.ProviderAnthropic})

	if err := s.SetNeedsReauth(stored.ID, true); err != nil {
		t.Fatalf("SetNeedsReauth failed: %v", err)
	}
	if !s.Get(stored.ID).NeedsReauth {
		t.Error("flag not set in memory")
	}

	// The flag must survive a reload from disk.
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer func() {
		_ = reloaded.Close()
	}()
	if !reloaded.Get(stored.ID).NeedsReauth {
		t.Error("flag not persisted")
	}

	if err := s.SetNeedsReauth(stored.ID, false); err != nil {
		t.Fatalf("clearing flag failed: %v", err)
	}
	if s.Get(stored.ID).NeedsReauth {
		t.Error("flag not cleared")
	}
}

func TestUpdateDisplayName(t *testing.T) {
	s, _ := newTestService(t)
	stored, _ := s.Add(models.Account{Provider: models.ProviderOpenRouter})

	if err := s.UpdateDisplayName(stored.ID, "me@example.com"); err != nil {
		t.Fatalf("UpdateDisplayName failed: %v", err)
	}
	if got := s.Get(stored.ID).DisplayName; got != "me@example.com" {
		t.Errorf("DisplayName = %q", got)
	}

	if err := s.UpdateDisplayName("missing", "x"); err == nil {
		t.Error("expected error for unknown account")
	}
}

func TestSetPollInterval(t *testing.T) {
	s, _ := newTestService(t)
	stored, _ := s.Add(models.Account{Provider: models.ProviderMistral})

	if err := s.SetPollInterval(stored.ID, 3*time.Minute); err != nil {
		t.Fatalf("SetPollInterval failed: %v", err)
	}
	if got := s.Get(stored.ID).PollInterval(); got != 3*time.Minute {
		t.Errorf("PollInterval = %v, want 3m", got)
	}

	if err := s.SetPollInterval(stored.ID, 0); err != nil {
		t.Fatalf("clearing interval failed: %v", err)
	}
	if got := s.Get(stored.ID).PollInterval(); got != 0 {
		t.Errorf("PollInterval = %v, want 0 (global default)", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	s, path := newTestService(t)
	a, _ := s.Add(models.Account{Provider: models.ProviderAnthropic, DisplayName: "one"})
	b, _ := s.Add(models.Account{Provider: models.ProviderCopilot, PollIntervalSec: 60})

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer func() {
		_ = reloaded.Close()
	}()

	if reloaded.Count() != 2 {
		t.Fatalf("Count after reload = %d, want 2", reloaded.Count())
	}
	if got := reloaded.Get(a.ID); got == nil || got.DisplayName != "one" {
		t.Errorf("account a after reload = %+v", got)
	}
	if got := reloaded.Get(b.ID); got == nil || got.PollIntervalSec != 60 {
		t.Errorf("account b after reload = %+v", got)
	}
}

func TestParseInventoryFormats(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{
			name: "versioned envelope",
			data: `{"version":1,"accounts":[{"id":"a","provider":"anthropic"}]}`,
			want: 1,
		},
		{
			name: "legacy bare array",
			data: `[{"id":"a","provider":"openai"},{"id":"b","provider":"gemini"}]`,
			want: 2,
		},
		{
			name: "empty envelope",
			data: `{"version":1,"accounts":[]}`,
			want: 0,
		},
		{
			name:    "garbage",
			data:    `not json at all`,
			wantErr: true,
		},
		{
			name:    "wrong shape",
			data:    `{"accounts":"nope"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts, err := parseInventory([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInventory failed: %v", err)
			}
			if len(accounts) != tt.want {
				t.Errorf("parsed %d accounts, want %d", len(accounts), tt.want)
			}
		})
	}
}
