package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "autodev",
	Short: "autodev — an agent-driven story pipeline",
	Long: `autodev drives user stories through a configurable pipeline of agent stages.
Each stage spawns an external coding agent against a story; failed attempts are
retried with backoff and enriched with lessons learned from earlier failures.

All state is stored in ./.autodev/ (YAML for story status, SQLite for the
event journal and the knowledge base).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(skipCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
