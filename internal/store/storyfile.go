package store

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	headingRe  = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*$`)
	checkboxRe = regexp.MustCompile(`^\s*[-*]\s+\[( |x|X)\]\s+(.+?)\s*$`)
)

// ParseStoryFile extracts the task and acceptance-criterion checklists from a
// story markdown file. Checkbox items under a heading containing "task" become
// tasks; items under a heading containing "acceptance" become criteria.
func ParseStoryFile(path string) ([]Task, []Criterion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open story file: %w", err)
	}
	defer f.Close()

	var (
		tasks    []Task
		criteria []Criterion
		section  string
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if m := headingRe.FindStringSubmatch(line); m != nil {
			h := strings.ToLower(m[1])
			switch {
			case strings.Contains(h, "acceptance"):
				section = "acceptance"
			case strings.Contains(h, "task"):
				section = "tasks"
			default:
				section = ""
			}
			continue
		}

		m := checkboxRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		done := m[1] == "x" || m[1] == "X"
		desc := m[2]

		switch section {
		case "tasks":
			tasks = append(tasks, Task{Description: desc, Done: done})
		case "acceptance":
			criteria = append(criteria, Criterion{Description: desc, Done: done})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read story file: %w", err)
	}
	return tasks, criteria, nil
}

// SyncFromSource refreshes the story's checklists from its source document.
// Agents tick checkboxes in the story file as they work; the store merges
// those marks with its own (a task completed by either side stays completed).
// Missing or unset source files are a no-op.
func SyncFromSource(st *Story) error {
	if st.SourceFile == "" {
		return nil
	}
	if _, err := os.Stat(st.SourceFile); os.IsNotExist(err) {
		return nil
	}
	tasks, criteria, err := ParseStoryFile(st.SourceFile)
	if err != nil {
		return err
	}
	st.Tasks = mergeTasks(st.Tasks, tasks)
	st.AcceptanceCriteria = mergeCriteria(st.AcceptanceCriteria, criteria)
	return nil
}

func mergeTasks(existing, parsed []Task) []Task {
	done := make(map[string]bool, len(existing))
	for _, t := range existing {
		if t.Done {
			done[t.Description] = true
		}
	}
	for i := range parsed {
		if done[parsed[i].Description] {
			parsed[i].Done = true
		}
	}
	if len(parsed) == 0 {
		return existing
	}
	return parsed
}

func mergeCriteria(existing, parsed []Criterion) []Criterion {
	done := make(map[string]bool, len(existing))
	for _, c := range existing {
		if c.Done {
			done[c.Description] = true
		}
	}
	for i := range parsed {
		if done[parsed[i].Description] {
			parsed[i].Done = true
		}
	}
	if len(parsed) == 0 {
		return existing
	}
	return parsed
}
