// Package retry wraps stage execution with the bounded-attempt backoff
// policy. Each failure is recorded into the knowledge base, and the next
// attempt is enriched with the accumulated hints, so repeated failures become
// increasingly informed retries rather than blind repetition.
package retry

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/lucasnoah/autodev/internal/config"
	"github.com/lucasnoah/autodev/internal/knowledge"
	"github.com/lucasnoah/autodev/internal/prompt"
	"github.com/lucasnoah/autodev/internal/spawn"
	"github.com/lucasnoah/autodev/internal/store"
)

const maxHintsPerAttempt = 3

// Handler executes stages under the retry policy.
type Handler struct {
	spawner  spawn.Spawner
	kb       *knowledge.Base
	backoff  config.Backoff
	progress io.Writer
	observer func(spawn.AttemptResult)
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Handler.
func New(spawner spawn.Spawner, kb *knowledge.Base, backoff config.Backoff) *Handler {
	return &Handler{
		spawner: spawner,
		kb:      kb,
		backoff: backoff,
		sleep:   sleepCtx,
	}
}

// SetProgress sets a writer for live progress output.
func (h *Handler) SetProgress(w io.Writer) {
	h.progress = w
}

// SetObserver registers a callback invoked with every spawn attempt's result,
// before any retry decision. The engine uses it to persist attempt counters as
// they happen, so a crash mid-stage loses at most the in-flight attempt.
func (h *Handler) SetObserver(fn func(spawn.AttemptResult)) {
	h.observer = fn
}

// SetSleep overrides the backoff sleep (for testing).
func (h *Handler) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	h.sleep = fn
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.progress != nil {
		fmt.Fprintf(h.progress, "  → "+format+"\n", args...)
	}
}

// Execute runs one stage for a story. A disabled stage returns a synthetic
// success without invoking the spawner. Otherwise the stage's agent is spawned
// up to MaxAttempts times, with a strictly increasing backoff between
// attempts; a non-retryable stage fails on its first failure. Extra template
// variables (e.g. a decomposed task) override the defaults.
func (h *Handler) Execute(ctx context.Context, stage config.Stage, story *store.Story, extra prompt.Vars) spawn.AttemptResult {
	if !stage.IsEnabled() {
		h.logf("stage %s is disabled, skipping", stage.Name)
		return spawn.AttemptResult{
			Stage:   stage.Name,
			Success: true,
			Skipped: true,
			Message: "stage disabled",
		}
	}

	var (
		last    spawn.AttemptResult
		lastSig string
	)

	for attempt := 1; attempt <= stage.MaxAttempts; attempt++ {
		command, err := h.renderCommand(stage, story, attempt, lastSig, extra)
		if err != nil {
			// A template the config can't satisfy won't improve with retries.
			return spawn.AttemptResult{
				Stage:          stage.Name,
				Attempt:        attempt,
				Classification: spawn.ClassSpawnError,
				ExitCode:       -1,
				Message:        fmt.Sprintf("render command: %v", err),
			}
		}

		h.logf("stage %s: attempt %d/%d", stage.Name, attempt, stage.MaxAttempts)
		res := h.spawner.Spawn(ctx, command, stage.Timeout())
		res.Stage = stage.Name
		res.Attempt = attempt
		if h.observer != nil {
			h.observer(res)
		}

		if res.Success {
			return res
		}
		if res.Classification == spawn.ClassInterrupted {
			return res
		}
		if !stage.IsRetryable() {
			h.logf("stage %s is not retryable, failing", stage.Name)
			return res
		}

		last = res
		if attempt < stage.MaxAttempts {
			errText := res.Output
			if errText == "" {
				errText = res.Message
			}
			sig, recErr := h.kb.Record(stage.Name, errText, "")
			if recErr != nil {
				h.logf("warning: record knowledge: %v", recErr)
			} else {
				lastSig = sig
			}

			delay := Delay(h.backoff, attempt)
			h.logf("stage %s failed (%s), retrying in %s", stage.Name, res.Classification, delay)
			if err := h.sleep(ctx, delay); err != nil {
				last.Classification = spawn.ClassInterrupted
				last.Message = "interrupted during backoff"
				return last
			}
		}
	}

	last.Classification = spawn.ClassRetryExhausted
	last.Message = fmt.Sprintf("stage %q failed after %d attempts", stage.Name, stage.MaxAttempts)
	return last
}

// renderCommand expands the stage's command template, injecting knowledge
// hints from the story's last recorded failure signature in this run.
func (h *Handler) renderCommand(stage config.Stage, story *store.Story, attempt int, lastSig string, extra prompt.Vars) (string, error) {
	hints := ""
	if lastSig != "" {
		entries, err := h.kb.Lookup(lastSig)
		if err != nil {
			h.logf("warning: knowledge lookup: %v", err)
		} else {
			hints = knowledge.FormatHints(entries, maxHintsPerAttempt)
		}
	}

	vars := prompt.Vars{
		"story_id":   story.ID,
		"story_file": story.SourceFile,
		"stage":      stage.Name,
		"attempt":    strconv.Itoa(attempt),
		"hints":      hints,
		"task":       "",
	}
	for k, v := range extra {
		vars[k] = v
	}
	return prompt.Render(stage.Command, vars)
}

// Delay returns the backoff before retrying after the given failed attempt
// (1-indexed). Delays strictly increase with the attempt number until the
// configured ceiling and are never zero.
func Delay(b config.Backoff, attempt int) time.Duration {
	d := b.BaseSeconds * math.Pow(b.Multiplier, float64(attempt-1))
	if d > b.MaxSeconds {
		d = b.MaxSeconds
	}
	return time.Duration(d * float64(time.Second))
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
