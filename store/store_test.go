package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

func setTestConfigDir(t *testing.T) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", root)
	t.Setenv("XDG_CACHE_HOME", root)
}

func TestSetShowHidden_RoundTrip(t *testing.T) {
	setTestConfigDir(t)
	a, b := uuid.New(), uuid.New()

	hidden, err := LoadHiddenShows()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(hidden) != 0 {
		t.Fatalf("expected no hidden shows, got %+v", hidden)
	}

	if err := SetShowHidden(a, true); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := SetShowHidden(b, true); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	hidden, err = LoadHiddenShows()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !hidden[a] || !hidden[b] {
		t.Fatalf("expected shows to be hidden, got %+v", hidden)
	}

	if err := SetShowHidden(a, false); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	hidden, err = LoadHiddenShows()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hidden[a] {
		t.Fatalf("expected show a visible, got %+v", hidden)
	}
	if !hidden[b] {
		t.Fatalf("expected show b hidden, got %+v", hidden)
	}
}

func TestSetShowHidden_InvalidInput(t *testing.T) {
	setTestConfigDir(t)

	if err := SetShowHidden(uuid.Nil, true); err == nil {
		t.Fatal("expected error for empty show id")
	}
}

func TestSession_SaveLoadClear(t *testing.T) {
	setTestConfigDir(t)

	token, err := LoadSession()
	if err != nil || token != "" {
		t.Fatalf("expected no session, got %q (%v)", token, err)
	}
	if err := SaveSession("  abc.def.ghi "); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	path, _ := configPath("session.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected session file, got %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	token, err = LoadSession()
	if err != nil || token != "abc.def.ghi" {
		t.Fatalf("expected saved token, got %q (%v)", token, err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("expected clearing twice to succeed, got %v", err)
	}
	if token, _ := LoadSession(); token != "" {
		t.Fatalf("expected cleared session, got %q", token)
	}
}

func TestRememberShow_MovesToFrontAndCaps(t *testing.T) {
	setTestConfigDir(t)

	var shows []model.Show
	for i := 0; i < maxRecentShow+2; i++ {
		show := model.Show{Id: uuid.New(), Name: "show"}
		shows = append(shows, show)
		if err := RememberShow(show); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}
	if err := RememberShow(shows[5]); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	recents, err := LoadRecentShows()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(recents) != maxRecentShow {
		t.Fatalf("expected %d recents, got %d", maxRecentShow, len(recents))
	}
	if recents[0].ID != shows[5].Id {
		t.Fatalf("expected show 5 first, got %s", recents[0].ID)
	}
	seen := map[uuid.UUID]bool{}
	for _, r := range recents {
		if seen[r.ID] {
			t.Fatalf("duplicate recent %s", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestShowCache_Freshness(t *testing.T) {
	setTestConfigDir(t)

	if shows, fresh, err := LoadShowCache(); err != nil || fresh || len(shows) != 0 {
		t.Fatalf("expected empty stale cache, got %d fresh=%v err=%v", len(shows), fresh, err)
	}

	want := []model.Show{{Id: uuid.New(), Name: "Hamlet", StartTime: time.Now().UTC().Truncate(time.Second)}}
	if err := SaveShowCache(want); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	shows, fresh, err := LoadShowCache()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !fresh || len(shows) != 1 || shows[0].Id != want[0].Id {
		t.Fatalf("unexpected cache: %+v fresh=%v", shows, fresh)
	}
}
