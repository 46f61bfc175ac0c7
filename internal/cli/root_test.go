package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"rflow/internal/config"
	"rflow/internal/dispatch"
	"rflow/internal/flags"
	"rflow/internal/review"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"batch failures", fmt.Errorf("wrapped: %w", &dispatch.BatchError{Op: "push", FailureCount: 1, Total: 3}), exitFailures},
		{"missing merge commits", &review.MissingMergeCommitsError{Count: 2, Op: "review sync"}, exitEscalated},
		{"not stable", fmt.Errorf("review sync: %w after 3 rounds", review.ErrNotStable), exitEscalated},
		{"interrupted", dispatch.ErrInterrupted, exitInterrupted},
		{"cancelled", context.Canceled, exitInterrupted},
		{"timed out", fmt.Errorf("push %w after 1m", errTimedOut), exitFatal},
		{"worker exit", &exitError{code: 1}, 1},
		{"fatal", errors.New("changeset.id is required"), exitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// newFlagCmd copies the persistent flags so Changed marks stay local to
// one test. Values still land in opts.
func newFlagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "push"}
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		c := *f
		c.Changed = false
		cmd.Flags().AddFlag(&c)
	})
	return cmd
}

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	saved := opts
	defer func() { opts = saved }()

	cfg := config.New()
	cfg.Changeset.ID = "from-file"
	cfg.Runtime.Concurrency = 8

	cmd := newFlagCmd()
	if err := cmd.Flags().Set(flags.FlagTimeout, "90s"); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	if err := cmd.Flags().Set(flags.FlagEmit, "ndjson"); err != nil {
		t.Fatalf("set emit: %v", err)
	}

	applyFlags(cmd, cfg)

	if cfg.Changeset.ID != "from-file" {
		t.Fatalf("changeset overridden by an unset flag: %q", cfg.Changeset.ID)
	}
	if cfg.Runtime.Concurrency != 8 {
		t.Fatalf("concurrency overridden by an unset flag: %d", cfg.Runtime.Concurrency)
	}
	if cfg.Runtime.Timeout != 90*time.Second {
		t.Fatalf("timeout = %s, want 90s", cfg.Runtime.Timeout)
	}
	if len(cfg.Output.Emit) != 1 || cfg.Output.Emit[0] != "ndjson" {
		t.Fatalf("emit = %v", cfg.Output.Emit)
	}
}

func TestLoadConfig_MissingExplicitFileIsFatal(t *testing.T) {
	saved := opts
	defer func() { opts = saved }()

	cmd := newFlagCmd()
	if err := cmd.Flags().Set(flags.FlagConfig, "/does/not/exist.yaml"); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(cmd); err == nil {
		t.Fatalf("expected error for a missing --config file")
	}
}

func TestLoadConfig_DefaultFileMayBeAbsent(t *testing.T) {
	saved := opts
	defer func() { opts = saved }()
	t.Chdir(t.TempDir())

	cmd := newFlagCmd()
	if err := cmd.Flags().Set(flags.FlagChangeset, "cs-9"); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Changeset.Branch != "changeset/cs-9" {
		t.Fatalf("branch = %q", cfg.Changeset.Branch)
	}
}

func TestBoardFactory(t *testing.T) {
	cfg := config.New()
	cfg.Output.NoConsole = true
	if boardFactory(cfg, os.Stdout) != nil {
		t.Fatalf("expected no board with --no-console")
	}

	cfg.Output.NoConsole = false
	f, err := os.CreateTemp(t.TempDir(), "board")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	newBoard := boardFactory(cfg, f)
	if newBoard == nil {
		t.Fatalf("expected a board factory")
	}
	board := newBoard([]string{"core"})
	board.EndBullet("core", "done", true)
	board.Done()
}
