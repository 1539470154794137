package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/config"
	"github.com/lucasnoah/autodev/internal/db"
	"github.com/lucasnoah/autodev/internal/store"
)

// stateDir is the project-local directory holding all pipeline state.
const stateDir = ".autodev"

// loadConfig resolves the pipeline config for a command: an explicit --config
// path if given, otherwise the standard search locations.
func loadConfig(cmd *cobra.Command) (*config.PipelineConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.PipelineConfig
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openJournal opens the journal database and applies migrations.
func openJournal() (*db.DB, error) {
	path, err := db.DefaultPath(stateDir)
	if err != nil {
		return nil, err
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return d, nil
}

func openStore() (*store.Store, error) {
	return store.Open(stateDir)
}
