package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/store"
	"github.com/lucasnoah/autodev/internal/validate"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List stories awaiting review and their open items",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.ReadOnly(stateDir)
		if err != nil {
			return err
		}

		stories := st.ByStatus(store.StatusReview)
		w := cmd.OutOrStdout()
		if len(stories) == 0 {
			fmt.Fprintln(w, "No stories awaiting review.")
			return nil
		}

		for _, s := range stories {
			if err := store.SyncFromSource(s); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: story %s: %v\n", s.ID, err)
			}
			comp := validate.CheckCompletion(s)
			fmt.Fprintf(w, "%s (updated %s)\n", s.ID, s.UpdatedAt)
			if comp.Complete {
				fmt.Fprintf(w, "  all items complete; run `autodev approve %s`\n", s.ID)
				continue
			}
			for _, m := range comp.Missing {
				fmt.Fprintf(w, "  - %s\n", m)
			}
		}
		return nil
	},
}
