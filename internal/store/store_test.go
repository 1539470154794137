package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".autodev")
	if err := Init(dir, "test-project"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)

	stories := []*Story{
		{ID: "story-001", Status: StatusReadyForDev, SourceFile: "stories/story-001.md"},
		{ID: "story-002", Status: StatusBacklog},
		{ID: "story-003", Status: StatusDone},
	}
	for _, st := range stories {
		if err := s.Add(st); err != nil {
			t.Fatalf("Add(%s): %v", st.ID, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(s.Dir())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	all := reopened.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	for i, want := range []string{"story-001", "story-002", "story-003"} {
		if all[i].ID != want {
			t.Errorf("All()[%d].ID = %q, want %q (declaration order)", i, all[i].ID, want)
		}
	}
	if all[0].SourceFile != "stories/story-001.md" {
		t.Errorf("SourceFile not persisted: %q", all[0].SourceFile)
	}
	if all[0].UpdatedAt == "" {
		t.Error("UpdatedAt not set on Add")
	}
}

func TestSaveReplacesRecord(t *testing.T) {
	s := newTestStore(t)

	st := &Story{ID: "story-001", Status: StatusReadyForDev}
	if err := s.Add(st); err != nil {
		t.Fatal(err)
	}

	st.Status = StatusBlocked
	st.LastError = "implement: agent exited with status 1"
	st.RecordAttempt("implement", 3)
	if err := s.Save(st); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load("story-001")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != StatusBlocked {
		t.Errorf("Status = %q, want blocked", loaded.Status)
	}
	if loaded.LastError != "implement: agent exited with status 1" {
		t.Errorf("LastError = %q", loaded.LastError)
	}
	if loaded.StageAttempts["implement"] != 3 {
		t.Errorf("StageAttempts = %v", loaded.StageAttempts)
	}

	if got := len(s.All()); got != 1 {
		t.Errorf("Save should replace, not append: %d records", got)
	}
}

func TestAddDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(&Story{ID: "story-001", Status: StatusBacklog}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&Story{ID: "story-001", Status: StatusBacklog}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestListActionable(t *testing.T) {
	s := newTestStore(t)

	seed := []*Story{
		{ID: "a", Status: StatusDone},
		{ID: "b", Status: StatusReadyForDev},
		{ID: "c", Status: StatusBacklog},
		{ID: "d", Status: StatusBlocked},
		{ID: "e", Status: StatusInProgress},
		{ID: "f", Status: StatusDrafted},
		{ID: "g", Status: StatusSkipped},
	}
	for _, st := range seed {
		if err := s.Add(st); err != nil {
			t.Fatal(err)
		}
	}

	actionable := s.ListActionable()
	want := []string{"b", "d", "e"}
	if len(actionable) != len(want) {
		t.Fatalf("got %d actionable, want %d", len(actionable), len(want))
	}
	for i, id := range want {
		if actionable[i].ID != id {
			t.Errorf("actionable[%d] = %q, want %q", i, actionable[i].ID, id)
		}
	}
}

func TestLoadNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("missing")
	if err == nil {
		t.Fatal("expected error for unknown story")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the story, got: %v", err)
	}
}

func TestOpenWithoutInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".autodev")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := Open(dir)
	if err == nil {
		t.Fatal("expected error when status file is missing")
	}
	if !strings.Contains(err.Error(), "autodev init") {
		t.Errorf("error should point at init, got: %v", err)
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".autodev")
	if err := Init(dir, "p"); err != nil {
		t.Fatal(err)
	}
	doc := `project: p
generated: "2026-01-01T00:00:00Z"
stories:
  story-001:
    status: totally-bogus
`
	if err := os.WriteFile(filepath.Join(dir, "status.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(dir)
	if err == nil {
		t.Fatal("expected error for unknown status value")
	}
}

func TestInitPreservesExisting(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(&Story{ID: "story-001", Status: StatusReadyForDev}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if err := Init(s.Dir(), "test-project"); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	reopened, err := Open(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if len(reopened.All()) != 1 {
		t.Error("Init overwrote an existing status file")
	}
}

func TestReadOnlySkipsLock(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(&Story{ID: "story-001", Status: StatusReview}); err != nil {
		t.Fatal(err)
	}

	// Write lock is still held by s; a read-only open must succeed anyway.
	ro, err := ReadOnly(s.Dir())
	if err != nil {
		t.Fatalf("ReadOnly while locked: %v", err)
	}
	if len(ro.ByStatus(StatusReview)) != 1 {
		t.Error("read-only store did not see the review story")
	}
}

func TestLockContentionFailsFast(t *testing.T) {
	s := newTestStore(t)

	_, err := Open(s.Dir())
	if err == nil {
		t.Fatal("second Open should fail while lock is held")
	}
	if !strings.Contains(err.Error(), "locked by running process") {
		t.Errorf("expected lock contention error, got: %v", err)
	}
}

func TestStaleLockTakeover(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".autodev")
	if err := Init(dir, "p"); err != nil {
		t.Fatal(err)
	}
	// A pid far above the kernel's pid ceiling is never alive.
	if err := os.WriteFile(filepath.Join(dir, "status.lock"), []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open should take over a stale lock: %v", err)
	}
	s.Close()
}

func TestReleaseAllowsReacquire(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(s.Dir())
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	s2.Close()
}
