// Command polish iteratively refines a frontend code base: it screenshots
// the running page, asks a vision model to score it, plans small verified
// edits, and applies them once a human approves.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"polish/internal/workspace"
)

var workspaceFlag string

func main() {
	root := &cobra.Command{
		Use:           "polish",
		Short:         "Approval-gated iterative UI refinement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".", "workspace root")

	root.AddCommand(newInitCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newApproveCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveWorkspace() (*workspace.Workspace, error) {
	return workspace.Resolve(workspaceFlag)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := workspace.ResolveRoot(workspaceFlag)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("create workspace: %w", err)
			}
			ws, err := workspace.Resolve(root)
			if err != nil {
				return err
			}
			if err := ws.EnsureDirs(); err != nil {
				return err
			}
			if err := os.MkdirAll(ws.TargetDir, 0o755); err != nil {
				return fmt.Errorf("create target dir: %w", err)
			}
			if _, err := os.Stat(ws.ConfigPath); os.IsNotExist(err) {
				if err := os.WriteFile(ws.ConfigPath, []byte(starterConfig), 0o644); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace at %s\n", ws.Root)
			return nil
		},
	}
}

const starterConfig = `# polish workspace configuration
run:
  url: http://localhost:3000
  target_score: 8.5
  baseline_max_iterations: 10
  refinement: true
  refinement_max_iterations: 5
  excellence_target: 10

planner:
  model: gpt-4o

oracle:
  provider: vision
  model: gpt-4o

capture:
  command: ["shot-scraper", "{url}", "-o", "{out}", "--wait", "2000"]

server:
  enabled: true
  addr: 127.0.0.1:7328

logging:
  level: info
  format: console
`
