package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autodev/internal/config"
	"github.com/lucasnoah/autodev/internal/store"
	"github.com/lucasnoah/autodev/internal/validate"
)

const sampleConfig = `pipeline:
  name: default
  story_dir: stories
  defaults:
    timeout_seconds: 600
    max_attempts: 3
  backoff:
    base_seconds: 1
    multiplier: 2.0
    max_seconds: 60
  decompose_threshold: 6
  stages:
    - name: implement
      command: "claude --print -p 'Implement story {{story_id}} from {{story_file}}.{{#if task}} Focus only on this task: {{task}}.{{/if}}{{#if hints}}\n{{hints}}{{/if}}'"
      timeout_seconds: 900
    - name: verify
      command: "claude --print -p 'Verify story {{story_id}}: run the tests and tick completed checkboxes in {{story_file}}.{{#if hints}}\n{{hints}}{{/if}}'"
      retryable: false
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the status store and a starter pipeline config",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			project = filepath.Base(wd)
		}

		if err := store.Init(stateDir, project); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %s/ for project %q\n", stateDir, project)

		if _, err := os.Stat("autodev.yaml"); os.IsNotExist(err) {
			if err := os.WriteFile("autodev.yaml", []byte(sampleConfig), 0o644); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote starter autodev.yaml")
		}

		// Ingest story documents if the config names a story directory.
		cfg, err := config.LoadDefault()
		if err != nil || cfg.Pipeline.StoryDir == "" {
			return nil
		}
		return ingestStories(cmd, cfg.Pipeline.StoryDir)
	},
}

// ingestStories registers each markdown story document as a ready-for-dev
// story, parsing its task and acceptance-criterion checklists. Already
// registered stories are left untouched.
func ingestStories(cmd *cobra.Command, dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	known := make(map[string]bool)
	for _, s := range st.All() {
		known[s.ID] = true
	}

	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), ".md")
		if !validate.ValidStoryID(id) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipping %s: invalid story id %q\n", path, id)
			continue
		}
		if known[id] {
			continue
		}

		tasks, criteria, err := store.ParseStoryFile(path)
		if err != nil {
			return err
		}
		story := &store.Story{
			ID:                 id,
			SourceFile:         path,
			Status:             store.StatusReadyForDev,
			Tasks:              tasks,
			AcceptanceCriteria: criteria,
		}
		if err := st.Add(story); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added story %s (%d tasks, %d criteria)\n",
			id, len(tasks), len(criteria))
	}
	return nil
}

func init() {
	initCmd.Flags().String("project", "", "Project name (default: working directory name)")
}
