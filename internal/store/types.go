package store

// Status enumerates the lifecycle states of a story.
type Status string

const (
	StatusBacklog     Status = "backlog"
	StatusDrafted     Status = "drafted"
	StatusReadyForDev Status = "ready-for-dev"
	StatusInProgress  Status = "in-progress"
	StatusBlocked     Status = "blocked"
	StatusReview      Status = "review"
	StatusDone        Status = "done"
	StatusSkipped     Status = "skipped"
)

// Actionable reports whether a story in this status can be worked on.
// Blocked stories are actionable so a new run retries them.
func (s Status) Actionable() bool {
	switch s {
	case StatusReadyForDev, StatusInProgress, StatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether the status is final for the story.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusSkipped
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusDrafted, StatusReadyForDev, StatusInProgress,
		StatusBlocked, StatusReview, StatusDone, StatusSkipped:
		return true
	}
	return false
}

// Task is one checklist item from a story's task list.
type Task struct {
	Description string `yaml:"description"`
	Done        bool   `yaml:"done"`
}

// Criterion is one acceptance criterion from a story.
type Criterion struct {
	Description string `yaml:"description"`
	Done        bool   `yaml:"done"`
}

// Story is the persisted pipeline record for one unit of work.
// The ID is the story's key in the status file, not part of its record body.
type Story struct {
	ID                 string         `yaml:"-"`
	SourceFile         string         `yaml:"source_file,omitempty"`
	Status             Status         `yaml:"status"`
	StageAttempts      map[string]int `yaml:"stage_attempts,omitempty"`
	LastError          string         `yaml:"last_error,omitempty"`
	Tasks              []Task         `yaml:"tasks,omitempty"`
	AcceptanceCriteria []Criterion    `yaml:"acceptance_criteria,omitempty"`
	UpdatedAt          string         `yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy of the story.
func (st *Story) Clone() *Story {
	cp := *st
	if st.StageAttempts != nil {
		cp.StageAttempts = make(map[string]int, len(st.StageAttempts))
		for k, v := range st.StageAttempts {
			cp.StageAttempts[k] = v
		}
	}
	cp.Tasks = append([]Task(nil), st.Tasks...)
	cp.AcceptanceCriteria = append([]Criterion(nil), st.AcceptanceCriteria...)
	return &cp
}

// RecordAttempt bumps the attempt counter for a stage.
func (st *Story) RecordAttempt(stage string, attempt int) {
	if st.StageAttempts == nil {
		st.StageAttempts = make(map[string]int)
	}
	st.StageAttempts[stage] = attempt
}
