package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/knowledge"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Show the accumulated failure knowledge",
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()

		kb := knowledge.NewBase(journal)
		stats, err := kb.Stats()
		if err != nil {
			return err
		}
		entries, err := kb.All()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if stats.TotalEntries == 0 {
			fmt.Fprintln(w, "No failure knowledge recorded yet.")
			return nil
		}

		fmt.Fprintf(w, "%d distinct failures, %d occurrences\n\n",
			stats.TotalEntries, stats.TotalOccurrences)

		fmt.Fprintf(w, "%-20s %-12s %-6s %s\n", "CATEGORY", "STAGE", "SEEN", "PATTERN")
		fmt.Fprintf(w, "%-20s %-12s %-6s %s\n",
			strings.Repeat("-", 20),
			strings.Repeat("-", 12),
			strings.Repeat("-", 6),
			strings.Repeat("-", 10))
		for _, e := range entries {
			pattern := e.Pattern
			if len(pattern) > 60 {
				pattern = pattern[:57] + "..."
			}
			fmt.Fprintf(w, "%-20s %-12s %-6d %s\n", e.Category, e.Stage, e.Occurrences, pattern)
		}
		return nil
	},
}
