// Package worker is the entry routine of a worker process: it receives one
// task envelope, runs the task against its project and reports progress
// back to the dispatcher.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"rflow/internal/config"
	"rflow/internal/dispatch"
	"rflow/internal/log"
	"rflow/internal/project"
	"rflow/internal/relay"
	"rflow/internal/repository"
	"rflow/internal/tasks"
)

// ErrNoProject means the envelope did not carry the input project.
var ErrNoProject = fmt.Errorf("%w: input.project is missing", dispatch.ErrProjectNotFound)

// OpenFunc opens the working copy of a project.
type OpenFunc func(p project.Project) (repository.Repository, error)

// OpenGit opens the project's working copy with the git command line.
func OpenGit(p project.Project) (repository.Repository, error) {
	ref := p.Reference()
	if _, err := os.Stat(ref.Path); err != nil {
		return nil, err
	}
	return repository.Open(ref.Path, ref.Remote), nil
}

type Options struct {
	// Dirname is the project this worker was launched for. Empty skips the check.
	Dirname     string
	RelayDir    string
	InlineLimit int
	Open        OpenFunc
}

// Run handles one envelope. A returned error means the worker could not
// start its task and sent no final message; task failures are reported
// through the final message and Run returns nil.
func Run(ctx context.Context, opts Options, stdin io.Reader, stdout io.Writer) error {
	if opts.Open == nil {
		opts.Open = OpenGit
	}

	f, err := relay.NewReader(stdin, opts.RelayDir).Receive()
	if err != nil {
		return fmt.Errorf("receive envelope: %w", err)
	}
	var env dispatch.Envelope
	if err := f.Decode(&env); err != nil {
		return err
	}
	if env.Input.Project == nil || env.Input.Project.Project == nil {
		return ErrNoProject
	}
	p := env.Input.Project.Project
	dirname := project.Dirname(p)
	if opts.Dirname != "" && dirname != opts.Dirname {
		return fmt.Errorf("%w: assigned project %s not in envelope (got %q)", dispatch.ErrProjectNotFound, opts.Dirname, dirname)
	}
	task, err := tasks.Lookup(env.Kind)
	if err != nil {
		return err
	}

	snap := env.Config
	snap.Credentials = config.CredentialsFrom(f.Credentials)

	rep := NewReporter(relay.NewWriter(stdout, opts.RelayDir, opts.InlineLimit), dirname)
	log.InfoLog.Printf("running %s", env.Kind)

	repo, err := opts.Open(p)
	if err != nil {
		return rep.SendFinal(false, "", &dispatch.Output{Error: fmt.Sprintf("open repository: %v", err)})
	}

	data, err := runTask(ctx, task, &tasks.Env{Config: snap, Project: p, Params: env.Input.Params, Repo: repo}, rep)
	if err != nil {
		log.ErrorLog.Printf("%s failed: %v", env.Kind, err)
		return rep.SendFinal(false, "", &dispatch.Output{Error: err.Error()})
	}

	out := &dispatch.Output{Project: &project.Encoded{Project: p}}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return rep.SendFinal(false, "", &dispatch.Output{Error: fmt.Sprintf("encode output: %v", err)})
		}
		out.Data = raw
	}
	return rep.SendFinal(true, summary(data), out)
}

func runTask(ctx context.Context, task tasks.Task, env *tasks.Env, rep tasks.Reporter) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx, env, rep)
}

// summary is the final status text of a successful task.
func summary(data any) string {
	if s, ok := data.(fmt.Stringer); ok {
		return s.String()
	}
	return ""
}

// Main runs a worker process on stdin/stdout and returns its exit code.
func Main(ctx context.Context, opts Options) int {
	log.Initialize(opts.Dirname)
	defer log.Close()

	err := Run(ctx, opts, os.Stdin, os.Stdout)
	if err != nil {
		log.ErrorLog.Printf("worker: %v", err)
		fmt.Fprintf(os.Stderr, "worker %s: %v\n", opts.Dirname, err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, dispatch.ErrProjectNotFound):
		return dispatch.ExitProjectNotFound
	default:
		return 1
	}
}

// ErrFinalSent is returned by Reporter once the final message went out.
var ErrFinalSent = errors.New("final message already sent")

// Reporter sends progress messages for one project.
type Reporter struct {
	mu      sync.Mutex
	w       *relay.Writer
	dirname string
	final   bool
}

func NewReporter(w *relay.Writer, dirname string) *Reporter {
	return &Reporter{w: w, dirname: dirname}
}

func (r *Reporter) SendInterim(text string) error {
	return r.send(dispatch.ProgressMessage{Dirname: r.dirname, Update: text})
}

// SendFinal sends the terminal message. Only the first call is delivered.
func (r *Reporter) SendFinal(success bool, text string, out *dispatch.Output) error {
	return r.send(dispatch.ProgressMessage{
		Dirname:  r.dirname,
		Update:   text,
		Complete: true,
		Success:  success,
		Output:   out,
	})
}

func (r *Reporter) send(msg dispatch.ProgressMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final {
		return ErrFinalSent
	}
	if msg.Complete {
		r.final = true
	}
	_, err := r.w.Send(msg, nil)
	return err
}
