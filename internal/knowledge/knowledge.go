// Package knowledge is the append-only store of failure fingerprints and
// resolution hints. Repeated failures with the same signature increment one
// entry rather than piling up duplicates, and retries consult the store to
// turn blind repetition into informed attempts.
package knowledge

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/autodev/internal/db"
)

// Entry is one recorded failure fingerprint with its resolution hint.
type Entry struct {
	Signature   string
	Stage       string
	Category    string
	Pattern     string
	Hint        string
	Occurrences int
	LastSeen    string
}

// Base provides lookup and record operations over the knowledge store.
// Writes are serialized by the underlying single-connection database.
type Base struct {
	db *db.DB
}

// NewBase creates a Base on top of the journal database.
func NewBase(database *db.DB) *Base {
	return &Base{db: database}
}

// Record normalizes errText, fingerprints it, and upserts an entry: a new
// signature is inserted with count 1, a known one has its count incremented.
// It returns the signature so callers can look the entry up on a later retry.
func (b *Base) Record(stage, errText, hint string) (string, error) {
	category := Classify(errText)
	pattern := Normalize(errText)
	sig := Signature(category, pattern)

	if hint == "" {
		hint = DeriveHint(category, pattern)
	}
	err := b.db.UpsertKnowledge(db.KnowledgeRow{
		Signature: sig,
		Stage:     stage,
		Category:  category,
		Pattern:   pattern,
		Hint:      hint,
	})
	if err != nil {
		return "", err
	}
	return sig, nil
}

// Lookup returns entries for a signature, most occurrences first. An unknown
// signature yields an empty slice, not an error.
func (b *Base) Lookup(signature string) ([]Entry, error) {
	if signature == "" {
		return nil, nil
	}
	row, err := b.db.KnowledgeBySignature(signature)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return []Entry{fromRow(*row)}, nil
}

// ForStage returns the entries recorded for a stage, most occurrences first.
func (b *Base) ForStage(stage string, limit int) ([]Entry, error) {
	rows, err := b.db.KnowledgeByStage(stage, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = fromRow(r)
	}
	return entries, nil
}

// All returns every entry, most occurrences first.
func (b *Base) All() ([]Entry, error) {
	rows, err := b.db.KnowledgeAll()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = fromRow(r)
	}
	return entries, nil
}

// FormatHints renders the top entries as a block suitable for substitution
// into an agent command template.
func FormatHints(entries []Entry, max int) string {
	if len(entries) == 0 {
		return ""
	}
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	var sb strings.Builder
	sb.WriteString("Known issues from previous attempts:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s, seen %dx] %s\n", e.Category, e.Occurrences, e.Hint)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Stats aggregates the knowledge base for operator reporting.
type Stats struct {
	TotalEntries     int
	TotalOccurrences int
	ByStage          map[string]int
	ByCategory       map[string]int
}

// Stats returns aggregate counts over all entries.
func (b *Base) Stats() (*Stats, error) {
	entries, err := b.All()
	if err != nil {
		return nil, err
	}
	s := &Stats{
		ByStage:    make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, e := range entries {
		s.TotalEntries++
		s.TotalOccurrences += e.Occurrences
		s.ByStage[e.Stage]++
		s.ByCategory[e.Category]++
	}
	return s, nil
}

func fromRow(r db.KnowledgeRow) Entry {
	return Entry{
		Signature:   r.Signature,
		Stage:       r.Stage,
		Category:    r.Category,
		Pattern:     r.Pattern,
		Hint:        r.Hint,
		Occurrences: r.Occurrences,
		LastSeen:    r.LastSeen,
	}
}
