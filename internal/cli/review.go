package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rflow/internal/config"
	"rflow/internal/dispatch"
	"rflow/internal/flags"
	"rflow/internal/github"
	"rflow/internal/log"
	"rflow/internal/review"
)

var (
	reviewMaxRounds    int
	reviewPullRequests bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Keep review branches in step with the changeset",
	Long: `Each source project has a review source branch (commits under review) and a
review target branch (commits that passed review). Commits merged into the
review target advance the project's approval frontier, which is saved in the
workspace state file between runs.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var reviewStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Classify changeset commits against the review branches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		syn := &review.Synchronizer{Runner: s, Snapshot: s.snap, MaxRounds: s.cfg.Review.MaxRounds}
		_, err = syn.Status(s.ctx, s.projects)
		return s.finish(keepState(s, err))
	},
}

var reviewSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Forward new changeset commits into review until nothing is left",
	Long: `Alternate status and forward batches until no project has changeset commits
outside review, for at most --max-rounds rounds.

Missing review branches are created at the approval frontier. With
--pull-requests, a pull request from the review source to the review target
is opened for GitHub projects (token from GITHUB_TOKEN, GH_TOKEN or gh).

The sync stops before forwarding anything when a project has merge commits
that were never pushed to its changeset branch.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed(flags.FlagMaxRounds) {
			s.cfg.Review.MaxRounds = reviewMaxRounds
		}
		if cmd.Flags().Changed(flags.FlagPullRequests) {
			s.cfg.Review.PullRequests = reviewPullRequests
		}
		if s.cfg.Review.MaxRounds < 1 {
			return s.finish(fmt.Errorf("--%s must be >= 1", flags.FlagMaxRounds))
		}
		s.snap = s.cfg.Snapshot(config.Credentials{})
		if s.cfg.Review.PullRequests {
			token, source, err := github.ResolveAuthToken(s.ctx, "", "")
			if err != nil {
				return s.finish(fmt.Errorf("failed to resolve GitHub auth token: %w", err))
			}
			if token == "" {
				fmt.Fprintln(os.Stderr, "Warning: no GitHub token found (set GITHUB_TOKEN or run 'gh auth login'); pull requests are skipped")
			} else if s.cfg.Runtime.Verbose {
				fmt.Fprintf(os.Stderr, "[verbose] github token from %s\n", source)
			}
			s.snap.Credentials = config.Credentials{GitHubToken: token}
		}

		syn := &review.Synchronizer{Runner: s, Snapshot: s.snap, MaxRounds: s.cfg.Review.MaxRounds}
		report, err := syn.Sync(s.ctx, s.projects)
		if err == nil && !s.cfg.Output.NoConsole {
			fmt.Fprintf(os.Stdout, "review sync: settled after %d rounds, %d forwards\n", report.Rounds, report.Forwarded)
		}
		return s.finish(keepState(s, err))
	},
}

// keepState saves advanced frontiers unless the run was interrupted:
// frontiers only move for batches that completed.
func keepState(s *session, err error) error {
	if errors.Is(err, dispatch.ErrInterrupted) || errors.Is(err, context.Canceled) {
		log.WarningLog.Printf("interrupted: state file %s left unchanged", s.cfg.StatePath())
		return err
	}
	if serr := s.saveState(); serr != nil {
		if err == nil {
			return serr
		}
		fmt.Fprintf(os.Stderr, "Warning: %v\n", serr)
	}
	return err
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewStatusCmd, reviewSyncCmd)

	reviewSyncCmd.Flags().IntVar(&reviewMaxRounds, flags.FlagMaxRounds, 0, "Maximum status/forward rounds (default: review.max_rounds, 3)")
	reviewSyncCmd.Flags().BoolVar(&reviewPullRequests, flags.FlagPullRequests, false, "Open review pull requests on GitHub")
}
