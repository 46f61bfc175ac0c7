package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rflow/internal/config"
	"rflow/internal/dispatch"
	"rflow/internal/flags"
	"rflow/internal/review"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailures    = 1
	exitEscalated   = 2
	exitFatal       = 3
	exitInterrupted = 130
)

// globalOptions holds persistent flag values. Only flags the user set
// override the workspace file.
type globalOptions struct {
	configPath  string
	projects    []string
	changeset   string
	branch      string
	concurrency int
	timeout     time.Duration
	verbose     bool
	emit        []string
	noConsole   bool
	out         string
	outFormat   string
}

var opts globalOptions

var rootCmd = &cobra.Command{
	Use:   "rflow",
	Short: "Run changeset operations across many repositories at once",
	Long: `rflow runs one operation (checkout, tag, push, merge, review sync) against every
project of a workspace in parallel, one worker process per project, and shows
live per-project progress.

Examples:
	# Check out the changeset branch everywhere, creating it from main
	rflow checkout --changeset CS-42 --start-at origin/main

	# Forward new changeset commits into review
	rflow review sync

	# Inspect the approval state of one project
	rflow graph core

Output:
	A live status board is drawn on a terminal; plain lines otherwise.
	Structured results are available via --emit (stdout) and --out (file).
	ndjson streams run.started, project.finished, batch.finished and
	run.finished events as they happen; json writes one report at the end.

Exit codes:
	0   = success
	1   = some projects failed
	2   = the changeset needs attention (e.g. merge commits were never pushed)
	3   = fatal error (nothing ran)
	130 = interrupted`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, flags.FlagConfig, config.DefaultFile, "Workspace file")
	pf.StringSliceVar(&opts.projects, flags.FlagProjects, nil, "Limit the run to these projects (name or dirname; comma-separated accepted)")
	pf.StringVar(&opts.changeset, flags.FlagChangeset, "", "Changeset id (overrides changeset.id)")
	pf.StringVar(&opts.branch, flags.FlagBranch, "", "Changeset branch (default: changeset/<id>)")
	pf.IntVar(&opts.concurrency, flags.FlagConcurrency, 0, "Maximum concurrent worker processes (default: 4)")
	pf.DurationVar(&opts.timeout, flags.FlagTimeout, 0, "Timeout for the whole command (default: 30m)")
	pf.BoolVar(&opts.verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every GitHub API call and full error details)")
	pf.StringSliceVar(&opts.emit, flags.FlagEmit, nil, "Emit a structured stream to stdout: json|ndjson")
	pf.BoolVar(&opts.noConsole, flags.FlagNoConsole, false, "Suppress the status board and text summary (use with --emit/--out)")
	pf.StringVar(&opts.out, flags.FlagOut, "", "Write structured results to this path")
	pf.StringVar(&opts.outFormat, flags.FlagOutFormat, "", "Format for --out: json|ndjson (default: inferred from file extension)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

// exitError carries an exit code for an error already reported.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var errTimedOut = errors.New("timed out")

func exitCode(err error) int {
	var exitErr *exitError
	var missing *review.MissingMergeCommitsError
	var batchErr *dispatch.BatchError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &exitErr):
		return exitErr.code
	case errors.Is(err, dispatch.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &missing), errors.Is(err, review.ErrNotStable):
		return exitEscalated
	case errors.As(err, &batchErr):
		return exitFailures
	default:
		return exitFatal
	}
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	var exitErr *exitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
