package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rflow/internal/project"
	"rflow/internal/tasks"
)

var tasksListQuiet bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the per-project tasks workers can run",
	Long: `List the tasks registered in this build.

Each command dispatches one task to a worker process per project. Tasks are
sorted by kind.

Examples:
  rflow tasks
  rflow tasks show review-forward
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range tasks.List() {
			if tasksListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), t.Kind())
			} else {
				printTask(cmd.OutOrStdout(), t)
			}
		}
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show [kind]",
	Short: "Show details of a specific task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tasks.Lookup(args[0])
		if err != nil {
			return err
		}
		printTask(cmd.OutOrStdout(), t)
		return nil
	},
}

func printTask(w io.Writer, t tasks.Task) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "TASK: %s\n", t.Kind())
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, t.Description())

	var kinds []string
	for _, k := range []project.Kind{project.KindSource, project.KindBuild} {
		if t.Accepts(k) {
			kinds = append(kinds, string(k))
		}
	}
	fmt.Fprintf(w, "Projects: %s\n", strings.Join(kinds, ", "))
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().BoolVarP(&tasksListQuiet, "quiet", "q", false, "Only print task kinds")
	tasksCmd.AddCommand(tasksShowCmd)
}
