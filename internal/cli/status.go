package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/store"
)

type storyInfo struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Attempts  map[string]int `json:"attempts,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every story",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.ReadOnly(stateDir)
		if err != nil {
			return err
		}

		infos := make([]storyInfo, 0)
		for _, s := range st.All() {
			infos = append(infos, storyInfo{
				ID:        s.ID,
				Status:    string(s.Status),
				Attempts:  s.StageAttempts,
				LastError: s.LastError,
				UpdatedAt: s.UpdatedAt,
			})
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(infos, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stories found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-24s %-14s %-20s %s\n", "STORY", "STATUS", "ATTEMPTS", "LAST ERROR")
		fmt.Fprintf(w, "%-24s %-14s %-20s %s\n",
			strings.Repeat("-", 24),
			strings.Repeat("-", 14),
			strings.Repeat("-", 20),
			strings.Repeat("-", 10))
		for _, info := range infos {
			lastErr := info.LastError
			if len(lastErr) > 60 {
				lastErr = lastErr[:57] + "..."
			}
			fmt.Fprintf(w, "%-24s %-14s %-20s %s\n",
				info.ID, info.Status, formatAttempts(info.Attempts), lastErr)
		}
		return nil
	},
}

func formatAttempts(attempts map[string]int) string {
	if len(attempts) == 0 {
		return "-"
	}
	stages := make([]string, 0, len(attempts))
	for stage := range attempts {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	parts := make([]string, len(stages))
	for i, stage := range stages {
		parts[i] = fmt.Sprintf("%s:%d", stage, attempts[stage])
	}
	return strings.Join(parts, " ")
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
