package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"chatwidget/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLiteStore(path, "w-1", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestEnsureVisitorID_StableAcrossCalls(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureVisitorID(ctx)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first == "" {
		t.Fatal("expected a generated visitor id")
	}

	second, err := s.EnsureVisitorID(ctx)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if second != first {
		t.Fatalf("visitor id must be immutable: %q vs %q", first, second)
	}
}

func TestEnsureVisitorID_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path, "w-1", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	first, err := s.EnsureVisitorID(ctx)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path, "w-1", testLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s.Close()
	second, err := s.EnsureVisitorID(ctx)
	if err != nil {
		t.Fatalf("ensure after reopen: %v", err)
	}
	if second != first {
		t.Fatalf("visitor id lost across reopen: %q vs %q", first, second)
	}
}

func TestVisitorID_NamespacedByWidget(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	a, err := NewSQLiteStore(path, "w-a", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	idA, err := a.EnsureVisitorID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	a.Close()

	b, err := NewSQLiteStore(path, "w-b", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	idB, err := b.EnsureVisitorID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idA == idB {
		t.Fatal("different widgets must get different visitor ids")
	}
}

func TestProfile_AbsentThenRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p != nil {
		t.Fatalf("expected no profile yet, got %+v", p)
	}

	if err := s.SaveProfile(ctx, domain.VisitorProfile{Name: "Ana", Email: "a@x.com"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	p, err = s.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p == nil || p.Name != "Ana" || p.Email != "a@x.com" {
		t.Fatalf("profile round trip failed: %+v", p)
	}
}

func TestSession_SaveClearRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess := domain.ChatSession{
		ID:        "s1",
		Status:    domain.StatusOpen,
		Agent:     &domain.Agent{ID: "ag-1", Name: "Sam"},
		CreatedAt: time.Unix(100, 0).UTC(),
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if got == nil || got.ID != "s1" || got.Status != domain.StatusOpen || got.Agent == nil || got.Agent.Name != "Sam" {
		t.Fatalf("session round trip failed: %+v", got)
	}

	if err := s.ClearSession(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = s.Session(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected cleared session, got %+v err=%v", got, err)
	}
}

func TestSurveyDraft_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path, "w-1", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	draft := domain.SurveyDraft{SessionID: "s1", Rating: 5, Feedback: "great"}
	if err := s.SaveSurveyDraft(ctx, draft); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path, "w-1", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.SurveyDraft(ctx)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if got == nil || got.SessionID != "s1" || got.Rating != 5 || got.Feedback != "great" {
		t.Fatalf("survey draft lost across reopen: %+v", got)
	}

	if err := s.ClearSurveyDraft(ctx); err != nil {
		t.Fatalf("clear draft: %v", err)
	}
	got, err = s.SurveyDraft(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected cleared draft, got %+v err=%v", got, err)
	}
}

func TestLastSeen_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.LastSeen(ctx)
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero last-seen, got %v err=%v", got, err)
	}

	ts := time.Unix(12345, 0).UTC()
	if err := s.SetLastSeen(ctx, ts); err != nil {
		t.Fatalf("set last seen: %v", err)
	}
	got, err = s.LastSeen(ctx)
	if err != nil || !got.Equal(ts) {
		t.Fatalf("last seen round trip failed: %v err=%v", got, err)
	}
}

func TestOpened_Flag(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	opened, err := s.Opened(ctx)
	if err != nil || opened {
		t.Fatalf("expected not opened, got %v err=%v", opened, err)
	}
	if err := s.SetOpened(ctx); err != nil {
		t.Fatalf("set opened: %v", err)
	}
	opened, err = s.Opened(ctx)
	if err != nil || !opened {
		t.Fatalf("expected opened, got %v err=%v", opened, err)
	}
}

func TestGet_UnknownVersionReadsAsAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveProfile(ctx, domain.VisitorProfile{Name: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE client_state SET version = 99 WHERE key = ?`, keyProfile); err != nil {
		t.Fatal(err)
	}

	p, err := s.Profile(ctx)
	if err != nil {
		t.Fatalf("version mismatch must not error: %v", err)
	}
	if p != nil {
		t.Fatalf("version mismatch must read as absent, got %+v", p)
	}
}

func TestGet_CorruptValueReadsAsAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveProfile(ctx, domain.VisitorProfile{Name: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE client_state SET value = '{broken' WHERE key = ?`, keyProfile); err != nil {
		t.Fatal(err)
	}

	p, err := s.Profile(ctx)
	if err != nil {
		t.Fatalf("corrupt value must not error: %v", err)
	}
	if p != nil {
		t.Fatalf("corrupt value must read as absent, got %+v", p)
	}
}
