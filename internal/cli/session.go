package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rflow/internal/config"
	"rflow/internal/dispatch"
	"rflow/internal/flags"
	"rflow/internal/log"
	"rflow/internal/output"
	"rflow/internal/project"
	"rflow/internal/relay"
	"rflow/internal/status"
	"rflow/internal/tasks"
)

// loadConfig reads the workspace file, applies the flags the user set and
// validates the result. A missing default workspace file is not an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.New()
	if _, err := os.Stat(opts.configPath); err == nil {
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
	} else if cmd.Flags().Changed(flags.FlagConfig) {
		return nil, fmt.Errorf("--%s: %w", flags.FlagConfig, err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed(flags.FlagChangeset) {
		cfg.Changeset.ID = opts.changeset
	}
	if changed(flags.FlagBranch) {
		cfg.Changeset.Branch = opts.branch
	}
	if changed(flags.FlagConcurrency) {
		cfg.Runtime.Concurrency = opts.concurrency
	}
	if changed(flags.FlagTimeout) {
		cfg.Runtime.Timeout = opts.timeout
	}
	if changed(flags.FlagVerbose) {
		cfg.Runtime.Verbose = opts.verbose
	}
	if changed(flags.FlagEmit) {
		cfg.Output.Emit = opts.emit
	}
	if changed(flags.FlagNoConsole) {
		cfg.Output.NoConsole = opts.noConsole
	}
	if changed(flags.FlagOut) {
		cfg.Output.Out = opts.out
	}
	if changed(flags.FlagOutFormat) {
		cfg.Output.OutFormat = opts.outFormat
	}
}

// session is one command run over the selected projects.
type session struct {
	cfg      *config.Config
	state    config.State
	projects []project.Project
	snap     config.Snapshot
	disp     *dispatch.Dispatcher
	out      *output.Manager

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	state, err := config.LoadState(cfg.StatePath())
	if err != nil {
		return nil, err
	}
	selected, err := config.Select(cfg.Projects(state), opts.projects)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, errors.New("no projects configured (add workspace.projects to " + opts.configPath + ")")
	}

	relayDir := cfg.Runtime.SideChannelDir
	if relayDir == "" {
		relayDir = relay.DefaultDir()
	}
	launcher, err := dispatch.NewExecLauncher(relayDir)
	if err != nil {
		return nil, err
	}
	disp, err := dispatch.New(launcher, dispatch.Options{
		Concurrency: cfg.Runtime.Concurrency,
		RelayDir:    relayDir,
		InlineLimit: relay.DefaultInlineLimit,
		Board:       boardFactory(cfg, os.Stdout),
	})
	if err != nil {
		return nil, err
	}

	out, err := newOutputManager(cfg)
	if err != nil {
		return nil, err
	}

	log.Initialize("")
	log.InfoLog.Printf("%s: %d projects, changeset %s", cmd.CommandPath(), len(selected), cfg.Changeset.ID)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Runtime.Timeout)
	s := &session{
		cfg:      cfg,
		state:    state,
		projects: selected,
		snap:     cfg.Snapshot(config.Credentials{}),
		disp:     disp,
		out:      out,
		ctx:      ctx,
		cancel:   cancel,
	}
	if err := out.Write(output.Event{Type: "run.started", Op: cmd.Name(), Projects: len(selected)}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return s, nil
}

func boardFactory(cfg *config.Config, w *os.File) func(keys []string) dispatch.Board {
	if cfg.Output.NoConsole {
		return nil
	}
	if term.IsTerminal(int(w.Fd())) {
		return func(keys []string) dispatch.Board {
			return status.NewBoard(w, keys, status.TerminalSize(w))
		}
	}
	return func(keys []string) dispatch.Board {
		return status.NewPlain(w)
	}
}

func newOutputManager(cfg *config.Config) (*output.Manager, error) {
	mgr := output.NewManager()

	// The board already shows successes; the console adds full failure text.
	if !cfg.Output.NoConsole {
		if err := mgr.AddSink(output.NewConsoleSink(nil, "text", []string{string(output.StatusFail)})); err != nil {
			return nil, err
		}
	}
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(os.Stdout, emit)
		if err != nil {
			return nil, err
		}
		if err := mgr.AddSink(es); err != nil {
			return nil, err
		}
	}
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			return nil, err
		}
		if err := mgr.AddSink(fs); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// Run dispatches one batch and writes its results to the output sinks.
func (s *session) Run(ctx context.Context, kind string, snap config.Snapshot, batch []dispatch.Task) (*dispatch.BatchResult, error) {
	res, err := s.disp.Run(ctx, kind, snap, batch)
	if err != nil {
		if errors.Is(err, dispatch.ErrInterrupted) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %w after %s", kind, errTimedOut, s.cfg.Runtime.Timeout)
		}
		return nil, err
	}
	order := make([]string, 0, len(batch))
	for _, t := range batch {
		order = append(order, project.Dirname(t.Project))
	}
	if err := s.out.WriteBatch(kind, order, res); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return res, nil
}

// runTask runs kind over every selected project the task accepts.
func (s *session) runTask(kind string, params map[string]string) error {
	task, err := tasks.Lookup(kind)
	if err != nil {
		return err
	}
	var batch []dispatch.Task
	for _, p := range s.projects {
		if task.Accepts(p.Kind()) {
			batch = append(batch, dispatch.Task{Project: p, Params: params})
		}
	}
	res, err := s.Run(s.ctx, kind, s.snap, batch)
	if err != nil {
		return err
	}
	return res.Err(kind)
}

// saveState persists review frontiers the workers advanced.
func (s *session) saveState() error {
	s.state.Record(s.projects)
	return config.SaveState(s.cfg.StatePath(), s.state)
}

// finish records the outcome, closes every sink and returns err.
func (s *session) finish(err error) error {
	defer log.Close()
	defer s.cancel()

	end := output.Event{Type: "run.finished", ExitCode: exitCode(err)}
	if err != nil {
		end.Message = err.Error()
		log.ErrorLog.Printf("run finished: %v", err)
	}
	if werr := s.out.Write(end); werr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", werr)
	}
	if cerr := s.out.Close(); cerr != nil && err == nil {
		return cerr
	}
	return err
}

// runTaskCommand is the RunE body shared by single-batch commands.
func runTaskCommand(cmd *cobra.Command, kind string, params map[string]string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	return s.finish(s.runTask(kind, params))
}
