// Package validate gates status transitions. A story may only reach done when
// every task and acceptance criterion is checked off; anything unchecked is
// reported so the gap is visible instead of silently waved through.
package validate

import (
	"fmt"
	"regexp"

	"github.com/lucasnoah/autodev/internal/store"
)

// Completion reports whether a story has earned the done status.
type Completion struct {
	Complete bool
	Missing  []string
}

// CheckCompletion inspects a story's tasks and acceptance criteria. A story
// with no tasks and no criteria is trivially complete.
func CheckCompletion(story *store.Story) Completion {
	var missing []string
	for _, t := range story.Tasks {
		if !t.Done {
			missing = append(missing, fmt.Sprintf("task not done: %s", t.Description))
		}
	}
	for _, c := range story.AcceptanceCriteria {
		if !c.Done {
			missing = append(missing, fmt.Sprintf("criterion not met: %s", c.Description))
		}
	}
	return Completion{Complete: len(missing) == 0, Missing: missing}
}

const maxStoryIDLen = 100

var storyIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidStoryID reports whether id is safe to use as a store key and in shell
// command substitution: non-empty, at most 100 characters, and limited to
// letters, digits, hyphen, and underscore.
func ValidStoryID(id string) bool {
	if id == "" || len(id) > maxStoryIDLen {
		return false
	}
	return storyIDRe.MatchString(id)
}
