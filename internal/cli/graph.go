package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rflow/internal/config"
	"rflow/internal/graph"
	"rflow/internal/project"
	"rflow/internal/repository"
)

var graphFrom string

var graphCmd = &cobra.Command{
	Use:   "graph <project>",
	Short: "Show which changeset commits of a project are approved",
	Long: `Classify the commits between the project's approval source and the head of
its changeset branch, and print them oldest first.

Commits at or below the saved approval frontier are approved. Commits from
other lineages (for example, merged upstream work) are not listed.

Examples:
	rflow graph core
	rflow graph core --from v1.4.0
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		state, err := config.LoadState(cfg.StatePath())
		if err != nil {
			return err
		}
		selected, err := config.Select(cfg.Projects(state), args)
		if err != nil {
			return err
		}
		src, ok := selected[0].(*project.Source)
		if !ok {
			return fmt.Errorf("%s is a %s project; only source projects are reviewed", args[0], selected[0].Kind())
		}
		from := src.Review.ApprovedFrom
		if graphFrom != "" {
			from = graphFrom
		}

		repo := repository.Open(src.Path, src.Remote)
		g, err := graph.Create(repo, src.Dirname, from, src.Branch, src.Review.ApprovedTo,
			graph.Context{TrackingIDs: cfg.Changeset.TrackingIDs})
		if err != nil {
			return err
		}
		printGraph(cmd.OutOrStdout(), src, g)
		return nil
	},
}

func printGraph(w io.Writer, src *project.Source, g *graph.Graph) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s (%s)\n", src.Dirname, src.Branch)
	fmt.Fprintf(w, "  from:        %s\n", orNone(g.FromRefID()))
	fmt.Fprintf(w, "  approved to: %s\n", orNone(g.ApprovedTo()))

	commits := g.Commits()
	if len(commits) == 0 {
		fmt.Fprintln(w, "  no changeset commits")
		return
	}
	fmt.Fprintln(w)
	for _, c := range commits {
		mark := color.YellowString("•")
		if c.Approved {
			mark = color.GreenString("✓")
		}
		var tags []string
		if c.IsMerge() {
			tags = append(tags, "merge")
		}
		if c.System != nil && c.System.Ours {
			tags = append(tags, "rflow")
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = " [" + strings.Join(tags, ", ") + "]"
		}
		fmt.Fprintf(w, "  %s %s %s%s\n", mark, shortID(c.ID), subject(c.Message), suffix)
	}
	fmt.Fprintf(w, "\n  %d approved, %d unapproved\n", len(g.ApprovedCommits()), len(g.UnapprovedCommits()))
}

func orNone(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}

func subject(message string) string {
	s, _, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(s)
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringVar(&graphFrom, "from", "", "Approval source ref (default: the project's approved_from)")
}
