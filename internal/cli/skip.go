package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/store"
	"github.com/lucasnoah/autodev/internal/validate"
)

var skipCmd = &cobra.Command{
	Use:   "skip <story-id>",
	Short: "Exclude a story from the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !validate.ValidStoryID(id) {
			return fmt.Errorf("invalid story id %q", id)
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
		// Only stories that have not started may be skipped; failure paths go
		// through blocked, never skipped.
		switch story.Status {
		case store.StatusBacklog, store.StatusDrafted, store.StatusReadyForDev:
		default:
			return fmt.Errorf("cannot skip story %q in status %s", id, story.Status)
		}

		story.Status = store.StatusSkipped
		if err := st.Save(story); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "story %s skipped\n", id)
		return nil
	},
}
