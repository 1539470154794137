package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/engine"
	"github.com/lucasnoah/autodev/internal/knowledge"
	"github.com/lucasnoah/autodev/internal/retry"
	"github.com/lucasnoah/autodev/internal/spawn"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the pipeline over all actionable stories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()

		spawner := &spawn.ExecSpawner{Progress: cmd.ErrOrStderr()}
		handler := retry.New(spawner, knowledge.NewBase(journal), cfg.Pipeline.Backoff)
		handler.SetProgress(cmd.ErrOrStderr())

		eng := engine.New(st, handler, journal, cfg)
		eng.SetProgress(cmd.OutOrStdout())
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		eng.SetDryRun(dryRun)

		// SIGINT/SIGTERM cancel the run context; the engine persists the
		// in-flight story as blocked before stopping.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := eng.Run(ctx)
		if err != nil {
			return err
		}
		if res.Interrupted {
			fmt.Fprintln(cmd.OutOrStdout(), "run interrupted; in-flight story saved as blocked")
		}
		return nil
	},
}

func init() {
	startCmd.Flags().Bool("dry-run", false, "Print the execution plan without spawning agents")
	startCmd.Flags().String("config", "", "Path to pipeline config (default: autodev.yaml, ~/.autodev/config.yaml)")
}
