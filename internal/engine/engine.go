// Package engine drives stories through the configured pipeline stages. One
// run processes the actionable stories sequentially in declaration order; each
// story runs its stages in order through the retry handler, and its status is
// persisted after every attempt so a crash never loses progress.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/lucasnoah/autodev/internal/config"
	"github.com/lucasnoah/autodev/internal/db"
	"github.com/lucasnoah/autodev/internal/prompt"
	"github.com/lucasnoah/autodev/internal/retry"
	"github.com/lucasnoah/autodev/internal/spawn"
	"github.com/lucasnoah/autodev/internal/store"
	"github.com/lucasnoah/autodev/internal/validate"
)

// Engine orchestrates one pipeline run.
type Engine struct {
	store    *store.Store
	handler  *retry.Handler
	journal  *db.DB
	cfg      *config.PipelineConfig
	progress io.Writer
	dryRun   bool
}

// New creates an Engine. The journal may be nil; event logging is then skipped.
func New(st *store.Store, handler *retry.Handler, journal *db.DB, cfg *config.PipelineConfig) *Engine {
	return &Engine{store: st, handler: handler, journal: journal, cfg: cfg}
}

// SetProgress sets a writer for live run output.
func (e *Engine) SetProgress(w io.Writer) { e.progress = w }

// SetDryRun makes Run print the execution plan without spawning any agent.
func (e *Engine) SetDryRun(dry bool) { e.dryRun = dry }

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID       string
	Processed   int
	Done        int
	Review      int
	Blocked     int
	Interrupted bool
}

// storyOutcome is the terminal state a story reached within one run.
type storyOutcome int

const (
	outcomeDone storyOutcome = iota
	outcomeReview
	outcomeBlocked
	outcomeInterrupted
)

// Run processes every actionable story. A blocked story does not stop the run;
// the engine moves on to the next story. Cancellation finishes persisting the
// current story as blocked and then stops without starting another.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{RunID: ulid.Make().String()}

	stories := e.store.ListActionable()
	if len(stories) == 0 {
		e.logf("no actionable stories")
		return res, nil
	}

	if e.dryRun {
		e.printPlan(stories)
		return res, nil
	}

	e.logf("run %s: %d actionable stories", res.RunID, len(stories))

	for _, st := range stories {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		res.Processed++
		st.Status = store.StatusInProgress
		st.LastError = ""
		if err := e.store.Save(st); err != nil {
			return res, err
		}
		e.event(res.RunID, st.ID, "story_started", "", 0, "")
		e.logf("story %s: started", st.ID)

		outcome, err := e.runStory(ctx, res.RunID, st)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeDone:
			res.Done++
		case outcomeReview:
			res.Review++
		case outcomeBlocked:
			res.Blocked++
		case outcomeInterrupted:
			res.Blocked++
			res.Interrupted = true
		}
		if outcome == outcomeInterrupted {
			break
		}
	}

	e.logf("run %s: %d processed, %d done, %d review, %d blocked",
		res.RunID, res.Processed, res.Done, res.Review, res.Blocked)
	return res, nil
}

// runStory drives one story through every stage in order. An observer on the
// retry handler persists the story after every spawn attempt, not only at
// stage boundaries, so attempt counters are durable and visible mid-stage.
func (e *Engine) runStory(ctx context.Context, runID string, st *store.Story) (storyOutcome, error) {
	for i := range e.cfg.Pipeline.Stages {
		stage := e.cfg.Pipeline.Stages[i]

		var saveErr error
		e.handler.SetObserver(func(res spawn.AttemptResult) {
			st.RecordAttempt(res.Stage, res.Attempt)
			if err := e.store.Save(st); err != nil && saveErr == nil {
				saveErr = err
			}
			e.event(runID, st.ID, "stage_attempt", res.Stage, res.Attempt, string(res.Classification))
		})

		var attempt spawn.AttemptResult
		if stage.IsEnabled() && openTasks(st) > e.cfg.Pipeline.DecomposeThreshold {
			attempt = e.runDecomposed(ctx, runID, stage, st)
		} else {
			attempt = e.handler.Execute(ctx, stage, st, nil)
		}
		e.handler.SetObserver(nil)
		if saveErr != nil {
			return outcomeBlocked, saveErr
		}

		if attempt.Success {
			if !attempt.Skipped {
				e.event(runID, st.ID, "stage_completed", stage.Name, attempt.Attempt, "")
				e.logf("story %s: stage %s completed", st.ID, stage.Name)
			}
			continue
		}

		st.Status = store.StatusBlocked
		st.LastError = failureCause(attempt)
		if err := e.store.Save(st); err != nil {
			return outcomeBlocked, err
		}
		e.event(runID, st.ID, "stage_failed", stage.Name, attempt.Attempt, string(attempt.Classification))

		if attempt.Classification == spawn.ClassInterrupted {
			e.logf("story %s: interrupted at stage %s", st.ID, stage.Name)
			return outcomeInterrupted, nil
		}
		e.logf("story %s: blocked at stage %s (%s)", st.ID, stage.Name, attempt.Classification)
		return outcomeBlocked, nil
	}

	return e.finishStory(runID, st)
}

// runDecomposed splits a large story into one sub-run per unfinished task.
// Each sub-run is a full retry-managed stage execution with the task injected
// into the command template; completed tasks are persisted immediately, so an
// interrupted story resumes from where it stopped.
func (e *Engine) runDecomposed(ctx context.Context, runID string, stage config.Stage, st *store.Story) spawn.AttemptResult {
	e.logf("story %s: %d open tasks exceed threshold %d, decomposing stage %s",
		st.ID, openTasks(st), e.cfg.Pipeline.DecomposeThreshold, stage.Name)

	last := spawn.AttemptResult{Stage: stage.Name, Success: true, Skipped: true}
	for i := range st.Tasks {
		if st.Tasks[i].Done {
			continue
		}
		e.logf("story %s: stage %s task %d/%d: %s",
			st.ID, stage.Name, i+1, len(st.Tasks), st.Tasks[i].Description)

		res := e.handler.Execute(ctx, stage, st, prompt.Vars{"task": st.Tasks[i].Description})
		if !res.Success {
			return res
		}
		last = res

		st.Tasks[i].Done = true
		if err := e.store.Save(st); err != nil {
			res.Success = false
			res.Classification = spawn.ClassSpawnError
			res.Message = err.Error()
			return res
		}
		e.event(runID, st.ID, "task_completed", stage.Name, res.Attempt, st.Tasks[i].Description)
	}
	return last
}

// finishStory runs the completion gate after every stage has passed. Agents
// tick checkboxes in the story document, so the checklists are refreshed from
// it first. A fully checked story goes to done; gaps send it to review with
// the missing items recorded.
func (e *Engine) finishStory(runID string, st *store.Story) (storyOutcome, error) {
	if err := store.SyncFromSource(st); err != nil {
		e.logf("warning: story %s: sync source file: %v", st.ID, err)
	}

	comp := validate.CheckCompletion(st)
	if comp.Complete {
		st.Status = store.StatusDone
		st.LastError = ""
		if err := e.store.Save(st); err != nil {
			return outcomeBlocked, err
		}
		e.event(runID, st.ID, "story_done", "", 0, "")
		e.logf("story %s: done", st.ID)
		return outcomeDone, nil
	}

	st.Status = store.StatusReview
	st.LastError = "incomplete: " + strings.Join(comp.Missing, "; ")
	if err := e.store.Save(st); err != nil {
		return outcomeBlocked, err
	}
	e.event(runID, st.ID, "story_review", "", 0, strings.Join(comp.Missing, "; "))
	e.logf("story %s: needs review (%d open items)", st.ID, len(comp.Missing))
	return outcomeReview, nil
}

// printPlan writes the dry-run execution plan.
func (e *Engine) printPlan(stories []*store.Story) {
	e.logf("dry run: no agents will be spawned")
	for _, st := range stories {
		e.logf("story %s (%s):", st.ID, st.Status)
		for i := range e.cfg.Pipeline.Stages {
			stage := e.cfg.Pipeline.Stages[i]
			if !stage.IsEnabled() {
				e.logf("  stage %s: SKIP (disabled)", stage.Name)
				continue
			}
			if open := openTasks(st); open > e.cfg.Pipeline.DecomposeThreshold {
				e.logf("  stage %s: %d task sub-runs, up to %d attempts each, timeout %s",
					stage.Name, open, stage.MaxAttempts, stage.Timeout())
				continue
			}
			e.logf("  stage %s: up to %d attempts, timeout %s",
				stage.Name, stage.MaxAttempts, stage.Timeout())
		}
	}
}

func openTasks(st *store.Story) int {
	n := 0
	for _, t := range st.Tasks {
		if !t.Done {
			n++
		}
	}
	return n
}

func failureCause(res spawn.AttemptResult) string {
	if res.Message != "" {
		return fmt.Sprintf("%s: %s", res.Stage, res.Message)
	}
	return fmt.Sprintf("%s: %s", res.Stage, res.Classification)
}

// event journals a pipeline event; journal failures are reported but never
// abort the run.
func (e *Engine) event(runID, storyID, event, stage string, attempt int, detail string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.LogPipelineEvent(runID, storyID, event, stage, attempt, detail); err != nil {
		e.logf("warning: %v", err)
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, format+"\n", args...)
	}
}
