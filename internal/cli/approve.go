package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/store"
	"github.com/lucasnoah/autodev/internal/validate"
)

var approveCmd = &cobra.Command{
	Use:   "approve <story-id>",
	Short: "Mark a reviewed story as done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !validate.ValidStoryID(id) {
			return fmt.Errorf("invalid story id %q: use letters, digits, hyphen, underscore (max 100 chars)", id)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		story, err := st.Load(id)
		if err != nil {
			return err
		}
		if story.Status != store.StatusReview {
			return fmt.Errorf("story %q is %s, not review", id, story.Status)
		}

		// Pick up checkboxes ticked in the story document since the run.
		if err := store.SyncFromSource(story); err != nil {
			return err
		}
		comp := validate.CheckCompletion(story)
		if !comp.Complete {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "story %q still has %d open items:\n", id, len(comp.Missing))
			for _, m := range comp.Missing {
				fmt.Fprintf(w, "  - %s\n", m)
			}
			return fmt.Errorf("story %q is not complete", id)
		}

		story.Status = store.StatusDone
		story.LastError = ""
		if err := st.Save(story); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "story %s approved\n", id)
		return nil
	},
}
