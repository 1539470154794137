package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	statusFileName = "status.yaml"
	lockFileName   = "status.lock"
)

// StoreError indicates a fatal status-store failure: persistence I/O or lock
// contention. It aborts the whole run with a nonzero exit.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("status store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// document is the in-memory form of the status file. Stories keep their
// declaration order; that order is the scheduling priority.
type document struct {
	Project   string
	Generated string
	Stories   []*Story
}

// docYAML mirrors the on-disk layout. Stories is kept as a raw node so the
// story-id → record mapping round-trips in declaration order.
type docYAML struct {
	Project   string    `yaml:"project"`
	Generated string    `yaml:"generated"`
	Stories   yaml.Node `yaml:"stories"`
}

// Store persists per-story pipeline state to a YAML status file under dir.
// A Store holds the advisory write lock for its whole lifetime; at most one
// orchestrator process can hold write access at a time.
type Store struct {
	dir  string
	lock *Lock

	mu  sync.Mutex
	doc *document
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Init creates the store directory and an empty status file if none exists.
// It does not touch an existing status file.
func Init(dir, project string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StoreError{Op: "init", Err: err}
	}
	path := filepath.Join(dir, statusFileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	doc := &document{Project: project, Generated: now()}
	data, err := marshalDocument(doc)
	if err != nil {
		return &StoreError{Op: "init", Err: err}
	}
	if err := WriteAtomic(path, data); err != nil {
		return &StoreError{Op: "init", Err: err}
	}
	return nil
}

// Open acquires the store's write lock and loads the status file.
// A second orchestrator instance fails fast here instead of corrupting state.
func Open(dir string) (*Store, error) {
	lock, err := AcquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, &StoreError{Op: "lock", Err: err}
	}
	s := &Store{dir: dir, lock: lock}
	if err := s.reload(); err != nil {
		lock.Release()
		return nil, err
	}
	return s, nil
}

// ReadOnly loads the status file without taking the write lock, so inspection
// commands work while a run is active. Mutating methods must not be called on
// the returned store.
func ReadOnly(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the store's write lock.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.Release()
	s.lock = nil
	return err
}

// reload reads the status file from disk.
func (s *Store) reload() error {
	path := filepath.Join(s.dir, statusFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &StoreError{Op: "open", Err: fmt.Errorf("no status file at %s (run `autodev init`)", path)}
		}
		return &StoreError{Op: "open", Err: err}
	}
	doc, err := unmarshalDocument(data)
	if err != nil {
		return &StoreError{Op: "open", Err: err}
	}
	s.doc = doc
	return nil
}

// flush writes the whole document to disk atomically. Callers hold s.mu.
func (s *Store) flush() error {
	data, err := marshalDocument(s.doc)
	if err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	if err := WriteAtomic(filepath.Join(s.dir, statusFileName), data); err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	return nil
}

// Load returns a copy of the story with the given id.
func (s *Store) Load(id string) (*Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.doc.Stories {
		if st.ID == id {
			return st.Clone(), nil
		}
	}
	return nil, &StoreError{Op: "load", Err: fmt.Errorf("story %q not found", id)}
}

// Save persists the story record, replacing any existing record with the same
// id. The write is durable before Save returns.
func (s *Store) Save(story *Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	story.UpdatedAt = now()
	cp := story.Clone()
	replaced := false
	for i, st := range s.doc.Stories {
		if st.ID == cp.ID {
			s.doc.Stories[i] = cp
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Stories = append(s.doc.Stories, cp)
	}
	return s.flush()
}

// Add appends a new story in declaration order. It fails on a duplicate id.
func (s *Store) Add(story *Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.doc.Stories {
		if st.ID == story.ID {
			return &StoreError{Op: "add", Err: fmt.Errorf("story %q already exists", story.ID)}
		}
	}
	story.UpdatedAt = now()
	s.doc.Stories = append(s.doc.Stories, story.Clone())
	return s.flush()
}

// ListActionable returns stories whose status allows work, in declaration
// order. Backlog, drafted, done, and skipped stories are excluded.
func (s *Store) ListActionable() []*Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Story
	for _, st := range s.doc.Stories {
		if st.Status.Actionable() {
			out = append(out, st.Clone())
		}
	}
	return out
}

// All returns every story in declaration order.
func (s *Store) All() []*Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Story, 0, len(s.doc.Stories))
	for _, st := range s.doc.Stories {
		out = append(out, st.Clone())
	}
	return out
}

// ByStatus returns stories currently in the given status, in declaration order.
func (s *Store) ByStatus(status Status) []*Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Story
	for _, st := range s.doc.Stories {
		if st.Status == status {
			out = append(out, st.Clone())
		}
	}
	return out
}

func marshalDocument(doc *document) ([]byte, error) {
	stories := &yaml.Node{Kind: yaml.MappingNode}
	for _, st := range doc.Stories {
		var key, val yaml.Node
		if err := key.Encode(st.ID); err != nil {
			return nil, fmt.Errorf("encode story id %q: %w", st.ID, err)
		}
		if err := val.Encode(st); err != nil {
			return nil, fmt.Errorf("encode story %q: %w", st.ID, err)
		}
		stories.Content = append(stories.Content, &key, &val)
	}
	out := docYAML{
		Project:   doc.Project,
		Generated: doc.Generated,
		Stories:   *stories,
	}
	return yaml.Marshal(&out)
}

func unmarshalDocument(data []byte) (*document, error) {
	var dy docYAML
	if err := yaml.Unmarshal(data, &dy); err != nil {
		return nil, fmt.Errorf("parse status file: %w", err)
	}
	doc := &document{Project: dy.Project, Generated: dy.Generated}
	if dy.Stories.Kind == 0 || dy.Stories.Kind == yaml.ScalarNode {
		return doc, nil // empty stories section
	}
	if dy.Stories.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse status file: stories must be a mapping")
	}
	for i := 0; i+1 < len(dy.Stories.Content); i += 2 {
		keyNode := dy.Stories.Content[i]
		valNode := dy.Stories.Content[i+1]
		var st Story
		if err := valNode.Decode(&st); err != nil {
			return nil, fmt.Errorf("parse story %q: %w", keyNode.Value, err)
		}
		st.ID = keyNode.Value
		if st.Status == "" {
			st.Status = StatusBacklog
		}
		if !st.Status.Valid() {
			return nil, fmt.Errorf("story %q has unknown status %q", st.ID, st.Status)
		}
		doc.Stories = append(doc.Stories, &st)
	}
	return doc, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
