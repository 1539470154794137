package retry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/autodev/internal/config"
	"github.com/lucasnoah/autodev/internal/db"
	"github.com/lucasnoah/autodev/internal/knowledge"
	"github.com/lucasnoah/autodev/internal/prompt"
	"github.com/lucasnoah/autodev/internal/spawn"
	"github.com/lucasnoah/autodev/internal/store"
)

// fakeSpawner returns scripted results and records every rendered command.
type fakeSpawner struct {
	results  []spawn.AttemptResult
	commands []string
}

func (f *fakeSpawner) Spawn(ctx context.Context, command string, timeout time.Duration) spawn.AttemptResult {
	f.commands = append(f.commands, command)
	i := len(f.commands) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]
}

func failure() spawn.AttemptResult {
	return spawn.AttemptResult{
		Success:        false,
		ExitCode:       1,
		Output:         "--- FAIL: TestLogin",
		Classification: spawn.ClassSpawnError,
		Message:        "agent exited with status 1",
	}
}

func success() spawn.AttemptResult {
	return spawn.AttemptResult{Success: true, ExitCode: 0}
}

func newTestKB(t *testing.T) *knowledge.Base {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "autodev.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return knowledge.NewBase(database)
}

func newTestHandler(t *testing.T, f *fakeSpawner) (*Handler, *knowledge.Base) {
	t.Helper()
	kb := newTestKB(t)
	h := New(f, kb, config.Backoff{BaseSeconds: 1, Multiplier: 2, MaxSeconds: 60})
	h.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return h, kb
}

func testStage(maxAttempts int) config.Stage {
	return config.Stage{
		Name:           "implement",
		Command:        "run {{story_id}} attempt {{attempt}}{{#if hints}} with: {{hints}}{{/if}}",
		TimeoutSeconds: 60,
		MaxAttempts:    maxAttempts,
	}
}

func testStory() *store.Story {
	return &store.Story{ID: "story-001", SourceFile: "stories/story-001.md", Status: store.StatusInProgress}
}

func TestExecuteSuccessFirstTry(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{success()}}
	h, _ := newTestHandler(t, f)

	res := h.Execute(context.Background(), testStage(3), testStory(), nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(f.commands) != 1 {
		t.Errorf("spawn count = %d, want 1", len(f.commands))
	}
	if res.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", res.Attempt)
	}
	if !strings.Contains(f.commands[0], "run story-001 attempt 1") {
		t.Errorf("command = %q", f.commands[0])
	}
	if strings.Contains(f.commands[0], "with:") {
		t.Error("first attempt must not carry hints")
	}
}

func TestExecuteDisabledStageSkips(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{failure()}}
	h, _ := newTestHandler(t, f)

	stage := testStage(3)
	disabled := false
	stage.Enabled = &disabled

	res := h.Execute(context.Background(), stage, testStory(), nil)
	if !res.Success || !res.Skipped {
		t.Fatalf("expected skipped success, got %+v", res)
	}
	if len(f.commands) != 0 {
		t.Errorf("disabled stage spawned %d times", len(f.commands))
	}
}

func TestExecuteNonRetryableFailsOnce(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{failure()}}
	h, _ := newTestHandler(t, f)

	stage := testStage(3)
	retryable := false
	stage.Retryable = &retryable

	res := h.Execute(context.Background(), stage, testStory(), nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if len(f.commands) != 1 {
		t.Errorf("non-retryable stage spawned %d times, want 1", len(f.commands))
	}
	if res.Classification != spawn.ClassSpawnError {
		t.Errorf("Classification = %q, want spawn_error preserved", res.Classification)
	}
}

func TestExecuteFailFailSucceed(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{failure(), failure(), success()}}
	h, kb := newTestHandler(t, f)

	res := h.Execute(context.Background(), testStage(3), testStory(), nil)
	if !res.Success {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if res.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", res.Attempt)
	}
	if len(f.commands) != 3 {
		t.Fatalf("spawn count = %d, want 3", len(f.commands))
	}

	// Both failures left attempts remaining, so exactly two recordings of the
	// same fingerprint.
	all, err := kb.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("knowledge entries = %d, want 1", len(all))
	}
	if all[0].Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", all[0].Occurrences)
	}

	// Later attempts see the recorded hint.
	if strings.Contains(f.commands[0], "with:") {
		t.Error("attempt 1 should have no hints")
	}
	if !strings.Contains(f.commands[1], "Known issues from previous attempts") {
		t.Errorf("attempt 2 should carry hints, got %q", f.commands[1])
	}
	if !strings.Contains(f.commands[2], "Known issues from previous attempts") {
		t.Errorf("attempt 3 should carry hints, got %q", f.commands[2])
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{failure()}}
	h, kb := newTestHandler(t, f)

	res := h.Execute(context.Background(), testStage(2), testStory(), nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if len(f.commands) != 2 {
		t.Errorf("spawn count = %d, want 2", len(f.commands))
	}
	if res.Classification != spawn.ClassRetryExhausted {
		t.Errorf("Classification = %q, want retry_exhausted", res.Classification)
	}
	if !strings.Contains(res.Message, "after 2 attempts") {
		t.Errorf("Message = %q", res.Message)
	}

	// The final failure had no attempts remaining and is not recorded.
	all, err := kb.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Occurrences != 1 {
		t.Errorf("expected one entry with one occurrence, got %+v", all)
	}
}

func TestExecuteBackoffIncreases(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{failure()}}
	h, _ := newTestHandler(t, f)

	var delays []time.Duration
	h.SetSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	h.Execute(context.Background(), testStage(4), testStory(), nil)

	if len(delays) != 3 {
		t.Fatalf("sleep count = %d, want 3", len(delays))
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, d, want[i])
		}
	}
}

func TestExecuteInterruptedDuringBackoff(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{failure()}}
	h, _ := newTestHandler(t, f)
	h.SetSleep(func(ctx context.Context, d time.Duration) error {
		return errors.New("context canceled")
	})

	res := h.Execute(context.Background(), testStage(3), testStory(), nil)
	if res.Classification != spawn.ClassInterrupted {
		t.Errorf("Classification = %q, want interrupted", res.Classification)
	}
	if len(f.commands) != 1 {
		t.Errorf("spawn count = %d, want 1", len(f.commands))
	}
}

func TestExecuteInterruptedSpawnStopsImmediately(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{{
		Classification: spawn.ClassInterrupted,
		ExitCode:       -1,
		Message:        "agent interrupted",
	}}}
	h, _ := newTestHandler(t, f)

	res := h.Execute(context.Background(), testStage(3), testStory(), nil)
	if res.Classification != spawn.ClassInterrupted {
		t.Errorf("Classification = %q, want interrupted", res.Classification)
	}
	if len(f.commands) != 1 {
		t.Errorf("interrupted attempt must not be retried: %d spawns", len(f.commands))
	}
}

func TestExecuteObserverSeesEveryAttempt(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{failure(), failure(), success()}}
	h, _ := newTestHandler(t, f)

	var attempts []int
	var outcomes []bool
	h.SetObserver(func(res spawn.AttemptResult) {
		if res.Stage != "implement" {
			t.Errorf("observer got stage %q", res.Stage)
		}
		attempts = append(attempts, res.Attempt)
		outcomes = append(outcomes, res.Success)
	})

	h.Execute(context.Background(), testStage(3), testStory(), nil)

	if len(attempts) != 3 {
		t.Fatalf("observer calls = %d, want 3", len(attempts))
	}
	for i, want := range []int{1, 2, 3} {
		if attempts[i] != want {
			t.Errorf("attempts[%d] = %d, want %d", i, attempts[i], want)
		}
	}
	for i, want := range []bool{false, false, true} {
		if outcomes[i] != want {
			t.Errorf("outcomes[%d] = %v, want %v", i, outcomes[i], want)
		}
	}
}

func TestExecuteTaskVarOverride(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{success()}}
	h, _ := newTestHandler(t, f)

	stage := testStage(1)
	stage.Command = "run {{story_id}}{{#if task}} task: {{task}}{{/if}}"

	h.Execute(context.Background(), stage, testStory(), prompt.Vars{"task": "wire the handler"})
	if !strings.Contains(f.commands[0], "task: wire the handler") {
		t.Errorf("command = %q", f.commands[0])
	}
}

func TestExecuteRenderErrorFailsWithoutRetry(t *testing.T) {
	f := &fakeSpawner{results: []spawn.AttemptResult{success()}}
	h, _ := newTestHandler(t, f)

	stage := testStage(3)
	stage.Command = "run {{undefined_variable}}"

	res := h.Execute(context.Background(), stage, testStory(), nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Classification != spawn.ClassSpawnError {
		t.Errorf("Classification = %q", res.Classification)
	}
	if len(f.commands) != 0 {
		t.Errorf("render failure must not spawn, got %d", len(f.commands))
	}
}

func TestDelay(t *testing.T) {
	b := config.Backoff{BaseSeconds: 1, Multiplier: 2, MaxSeconds: 60}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, c := range cases {
		if got := Delay(b, c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}
