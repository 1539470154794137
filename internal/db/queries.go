package db

import (
	"database/sql"
	"fmt"
)

// PipelineEvent is one journal row for a story.
type PipelineEvent struct {
	RunID     string
	StoryID   string
	Event     string
	Stage     string
	Attempt   int
	Detail    string
	Timestamp string
}

// LogPipelineEvent appends an event to the journal.
func (d *DB) LogPipelineEvent(runID, storyID, event, stage string, attempt int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (run_id, story_id, event, stage, attempt, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, storyID, event, stage, attempt, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// RecentEvents returns the latest events for a story, newest first.
func (d *DB) RecentEvents(storyID string, limit int) ([]PipelineEvent, error) {
	rows, err := d.conn.Query(
		`SELECT run_id, story_id, event, COALESCE(stage, ''), COALESCE(attempt, 0), COALESCE(detail, ''), timestamp
		 FROM pipeline_events WHERE story_id = ? ORDER BY id DESC LIMIT ?`,
		storyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		if err := rows.Scan(&e.RunID, &e.StoryID, &e.Event, &e.Stage, &e.Attempt, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// KnowledgeRow is the raw persisted form of a knowledge entry.
type KnowledgeRow struct {
	Signature   string
	Stage       string
	Category    string
	Pattern     string
	Hint        string
	Occurrences int
	LastSeen    string
}

// UpsertKnowledge inserts a knowledge entry or, when the signature already
// exists, increments its occurrence count and refreshes last_seen.
func (d *DB) UpsertKnowledge(row KnowledgeRow) error {
	_, err := d.conn.Exec(
		`INSERT INTO knowledge_entries (signature, stage, category, pattern, hint, occurrences, last_seen)
		 VALUES (?, ?, ?, ?, ?, 1, datetime('now'))
		 ON CONFLICT(signature) DO UPDATE SET
		   occurrences = occurrences + 1,
		   last_seen = datetime('now')`,
		row.Signature, row.Stage, row.Category, row.Pattern, row.Hint,
	)
	if err != nil {
		return fmt.Errorf("upsert knowledge: %w", err)
	}
	return nil
}

// KnowledgeBySignature returns the entry for a signature, or nil if none.
func (d *DB) KnowledgeBySignature(signature string) (*KnowledgeRow, error) {
	row := d.conn.QueryRow(
		`SELECT signature, stage, category, pattern, hint, occurrences, last_seen
		 FROM knowledge_entries WHERE signature = ?`,
		signature,
	)
	var k KnowledgeRow
	err := row.Scan(&k.Signature, &k.Stage, &k.Category, &k.Pattern, &k.Hint, &k.Occurrences, &k.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	return &k, nil
}

// KnowledgeByStage returns entries recorded for a stage, most occurrences first.
func (d *DB) KnowledgeByStage(stage string, limit int) ([]KnowledgeRow, error) {
	rows, err := d.conn.Query(
		`SELECT signature, stage, category, pattern, hint, occurrences, last_seen
		 FROM knowledge_entries WHERE stage = ?
		 ORDER BY occurrences DESC, last_seen DESC LIMIT ?`,
		stage, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query knowledge by stage: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

// KnowledgeAll returns every entry, most occurrences first.
func (d *DB) KnowledgeAll() ([]KnowledgeRow, error) {
	rows, err := d.conn.Query(
		`SELECT signature, stage, category, pattern, hint, occurrences, last_seen
		 FROM knowledge_entries ORDER BY occurrences DESC, last_seen DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

func scanKnowledge(rows *sql.Rows) ([]KnowledgeRow, error) {
	var out []KnowledgeRow
	for rows.Next() {
		var k KnowledgeRow
		if err := rows.Scan(&k.Signature, &k.Stage, &k.Category, &k.Pattern, &k.Hint, &k.Occurrences, &k.LastSeen); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
