package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"rflow/internal/flags"
)

var (
	checkoutStartAt string
	tagName         string
	tagMessage      string
	mergeRef        string
	mergePush       bool
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Fetch and check out the changeset branch in every project",
	Long: `Fetch every project and check out the changeset branch.

A merge left in progress is aborted first. Projects with uncommitted changes
fail. With --start-at, a branch that exists neither locally nor on the remote
is created at that ref.

Examples:
	rflow checkout --changeset CS-42
	rflow checkout --changeset CS-42 --start-at origin/main
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]string{}
		if checkoutStartAt != "" {
			params["create"] = "true"
			params["start-at"] = checkoutStartAt
		}
		return runTaskCommand(cmd, "checkout", params)
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Tag the changeset branch head in every project and push the tag",
	Long: `Create an annotated tag on the changeset branch head and push it.

Build projects default the tag name to their configured version; --tag
overrides it for every project. An existing tag on the same commit is reused.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]string{}
		if tagName != "" {
			params["tag"] = tagName
		}
		if tagMessage != "" {
			params["message"] = tagMessage
		}
		return runTaskCommand(cmd, "tag", params)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the changeset branch of every project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskCommand(cmd, "push", nil)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a ref into the changeset branch of every project",
	Long: `Merge --ref into the changeset branch.

The branch is fast-forwarded when possible; otherwise a merge commit carrying
the changeset's tracking trailer is recorded. A failed merge is aborted.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeRef == "" {
			return errors.New("--" + flags.FlagRef + " is required")
		}
		params := map[string]string{"ref": mergeRef}
		if mergePush {
			params["push"] = "true"
		}
		return runTaskCommand(cmd, "merge", params)
	},
}

func init() {
	rootCmd.AddCommand(checkoutCmd, tagCmd, pushCmd, mergeCmd)

	checkoutCmd.Flags().StringVar(&checkoutStartAt, flags.FlagStartAt, "", "Create a missing changeset branch at this ref")

	tagCmd.Flags().StringVar(&tagName, flags.FlagTag, "", "Tag name (default: the project's version for build projects)")
	tagCmd.Flags().StringVar(&tagMessage, flags.FlagMessage, "", "Tag message (default: \"Release <tag>\")")

	mergeCmd.Flags().StringVar(&mergeRef, flags.FlagRef, "", "Ref to merge, e.g. origin/main")
	mergeCmd.Flags().BoolVar(&mergePush, flags.FlagPush, false, "Push the changeset branch after merging")
}
