package accounts

import (
	"os"
	"testing"
	"time"

	"github.com/quotawatch/quotawatch/internal/models"
)

// drainEvents consumes buffered events so later assertions see only
// fresh ones.
func drainEvents(s *Service) {
	for {
		select {
		case <-s.Events():
		default:
			return
		}
	}
}

func waitForEvent(t *testing.T, s *Service, want EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestMutationEvents(t *testing.T) {
	s, _ := newTestService(t)
	drainEvents(s)

	stored, err := s.Add(models.Account{Provider: models.ProviderAnthropic})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	ev := waitForEvent(t, s, EventAdded)
	if ev.Account == nil || ev.Account.ID != stored.ID {
		t.Errorf("added event account = %+v", ev.Account)
	}

	if err := s.UpdateDisplayName(stored.ID, "named"); err != nil {
		t.Fatalf("UpdateDisplayName failed: %v", err)
	}
	ev = waitForEvent(t, s, EventUpdated)
	if ev.Account == nil || ev.Account.DisplayName != "named" {
		t.Errorf("updated event account = %+v", ev.Account)
	}

	if err := s.Remove(stored.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	ev = waitForEvent(t, s, EventRemoved)
	if ev.Account == nil || ev.Account.ID != stored.ID {
		t.Errorf("removed event account = %+v", ev.Account)
	}
}

func TestExternalEditReload(t *testing.T) {
	s, path := newTestService(t)
	drainEvents(s)

	// Simulate another process rewriting the inventory.
	edited := `{"version":1,"accounts":[` +
		`{"id":"ext-1","provider":"anthropic","displayName":"external"}]}`
	if err := os.WriteFile(path, []byte(edited), 0600); err != nil {
		t.Fatalf("external write failed: %v", err)
	}

	waitForEvent(t, s, EventChanged)

	got := s.Get("ext-1")
	if got == nil {
		t.Fatal("externally added account not loaded")
	}
	if got.DisplayName != "external" {
		t.Errorf("DisplayName = %q, want external", got.DisplayName)
	}
}

func TestExternalEditInvalidJSON(t *testing.T) {
	s, path := newTestService(t)
	stored, _ := s.Add(models.Account{Provider: models.ProviderOpenAI})
	drainEvents(s)

	if err := os.WriteFile(path, []byte("{{{"), 0600); err != nil {
		t.Fatalf("external write failed: %v", err)
	}

	ev := waitForEvent(t, s, EventError)
	if ev.Error == nil {
		t.Error("error event should carry the parse error")
	}

	// Bad file must not wipe the in-memory inventory.
	if s.Get(stored.ID) == nil {
		t.Error("in-memory inventory lost after invalid external edit")
	}
}

func TestCloseStopsWatcher(t *testing.T) {
	path := t.TempDir() + "/accounts.json"
	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Writes after Close must not produce events or panics.
	if err := os.WriteFile(path, []byte(`{"version":1,"accounts":[]}`), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case ev := <-s.Events():
		if ev.Type == EventChanged {
			t.Error("watcher still delivering after Close")
		}
	default:
	}
}
