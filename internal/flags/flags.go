package flags

// Package flags defines canonical CLI flag names shared across the CLI and
// the worker bootstrap.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, 4, "...")
//	arg := "--" + flags.FlagConcurrency
const (
	// Workspace
	FlagConfig   = "config"
	FlagProjects = "projects"

	// Changeset
	FlagChangeset = "changeset"
	FlagBranch    = "branch"
	FlagStartAt   = "start-at"
	FlagForce     = "force"
	FlagMessage   = "message"
	FlagTag       = "tag"
	FlagRef       = "ref"
	FlagPush      = "push"

	// Review
	FlagPullRequests = "pull-requests"
	FlagMaxRounds    = "max-rounds"

	// Output
	FlagEmit      = "emit"
	FlagNoConsole = "no-console"
	FlagOut       = "out"
	FlagOutFormat = "out-format"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
	FlagVerbose     = "verbose"

	// Worker bootstrap
	FlagRelayDir = "relay-dir"
)
