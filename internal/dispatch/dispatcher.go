// Package dispatch fans per-project tasks out to isolated worker processes
// with bounded parallelism and aggregates their results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"rflow/internal/config"
	"rflow/internal/log"
	"rflow/internal/project"
	"rflow/internal/relay"
	"rflow/internal/tasks"
)

// Board renders per-project progress. The dispatcher calls it from the
// coordinating goroutine only.
type Board interface {
	ContinueBullet(key, text string)
	EndBullet(key, text string, ok bool)
	Spin()
	Done()
}

type Options struct {
	// Concurrency is the maximum number of live workers.
	Concurrency int

	// RelayDir and InlineLimit configure the payload relay in both directions.
	RelayDir    string
	InlineLimit int

	// Board creates the board for one batch from its dirnames, in batch
	// order. Optional.
	Board        func(keys []string) Board
	SpinInterval time.Duration
}

type Dispatcher struct {
	launcher Launcher
	opts     Options
}

func New(l Launcher, opts Options) (*Dispatcher, error) {
	if l == nil {
		return nil, errors.New("launcher is nil")
	}
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", opts.Concurrency)
	}
	if opts.RelayDir == "" {
		opts.RelayDir = relay.DefaultDir()
	}
	if opts.SpinInterval <= 0 {
		opts.SpinInterval = 100 * time.Millisecond
	}
	return &Dispatcher{launcher: l, opts: opts}, nil
}

// event is what worker goroutines hand to the coordinator. A non-nil
// fatal aborts the batch.
type event struct {
	dirname string
	msg     ProgressMessage
	fatal   error
}

// Run dispatches one task of the given kind per element of batch and blocks
// until every worker has finished. Precondition violations are returned
// before any worker starts. Task failures are counted in the result, not
// returned as errors. Project changes reported by workers are copied onto
// the batch's projects only when Run succeeds. On cancellation every live
// worker is killed and ErrInterrupted is returned; a worker that cannot
// locate its project kills the rest and fails the batch with
// ErrProjectNotFound.
func (d *Dispatcher) Run(ctx context.Context, kind string, snap config.Snapshot, batch []Task) (*BatchResult, error) {
	task, err := tasks.Lookup(kind)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	originals := make(map[string]project.Project, len(batch))
	envelopes := make([]Envelope, len(batch))
	for i, t := range batch {
		if !project.Valid(t.Project) {
			return nil, fmt.Errorf("dispatch %s: task #%d: %w", kind, i+1, ErrUnknownProject)
		}
		dirname := project.Dirname(t.Project)
		if !task.Accepts(t.Project.Kind()) {
			return nil, fmt.Errorf("dispatch %s: %s does not apply to %s project %s", kind, kind, t.Project.Kind(), dirname)
		}
		if _, dup := originals[dirname]; dup {
			return nil, fmt.Errorf("dispatch %s: project %s appears twice in one batch", kind, dirname)
		}
		originals[dirname] = t.Project
		envelopes[i] = Envelope{
			Kind:   kind,
			Config: snap,
			Input:  Input{Project: &project.Encoded{Project: t.Project}, Params: t.Params},
		}
	}

	result := &BatchResult{
		Outputs: make(map[string]Output, len(batch)),
		Errors:  make(map[string]string),
	}
	keys := make([]string, len(batch))
	for i, t := range batch {
		keys[i] = project.Dirname(t.Project)
	}
	var board Board = nopBoard{}
	if d.opts.Board != nil {
		board = d.opts.Board(keys)
	}
	credentials := snap.Credentials.Map()

	inProgress := make(map[string]bool, len(batch))
	updates := make(map[string]project.Project, len(batch))
	var fatal error
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	events := make(chan event)
	go func() {
		var g errgroup.Group
		g.SetLimit(d.opts.Concurrency)
		for _, env := range envelopes {
			if runCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				d.runWorker(runCtx, env, credentials, events)
				return nil
			})
		}
		_ = g.Wait()
		close(events)
	}()
	for dirname := range originals {
		inProgress[dirname] = true
	}

	ticker := time.NewTicker(d.opts.SpinInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			board.Done()
			for range events {
			}
			return nil, ErrInterrupted
		case <-ticker.C:
			board.Spin()
		case ev, ok := <-events:
			if !ok {
				board.Done()
				switch {
				case ctx.Err() != nil:
					return nil, ErrInterrupted
				case fatal != nil:
					return nil, fatal
				case len(inProgress) > 0:
					return nil, ErrInterrupted
				}
				for dirname, p := range updates {
					if err := project.Overlay(originals[dirname], p); err != nil {
						return nil, fmt.Errorf("dispatch %s: %w", kind, err)
					}
				}
				result.Success = result.FailureCount == 0
				return result, nil
			}
			if ev.fatal != nil && fatal == nil {
				fatal = fmt.Errorf("dispatch %s: project %s: %w", kind, ev.dirname, ev.fatal)
				log.ErrorLog.Printf("%v: stopping the batch", fatal)
				abort()
			}
			apply(board, ev, result, originals, updates, inProgress)
		}
	}
}

func apply(board Board, ev event, result *BatchResult, originals, updates map[string]project.Project, inProgress map[string]bool) {
	msg := ev.msg
	if !msg.Complete {
		if msg.Update != "" && inProgress[ev.dirname] {
			board.ContinueBullet(ev.dirname, msg.Update)
		}
		return
	}
	if !inProgress[ev.dirname] {
		log.WarningLog.Printf("duplicate final message from %s ignored", ev.dirname)
		return
	}
	delete(inProgress, ev.dirname)

	fail := func(reason string) {
		result.FailureCount++
		result.Errors[ev.dirname] = reason
		board.EndBullet(ev.dirname, reason, false)
	}

	var out Output
	if msg.Output != nil {
		out = *msg.Output
	}
	if !msg.Success {
		reason := out.Error
		if reason == "" {
			reason = msg.Update
		}
		if reason == "" {
			reason = "failed"
		}
		fail(reason)
		return
	}
	if out.Project != nil && out.Project.Project != nil {
		if err := project.CheckOverlay(originals[ev.dirname], out.Project.Project); err != nil {
			log.ErrorLog.Printf("worker %s returned an unusable project: %v", ev.dirname, err)
			fail(err.Error())
			return
		}
		updates[ev.dirname] = out.Project.Project
	}
	text := msg.Update
	if text == "" {
		text = "done"
	}
	out.Summary = text
	result.Outputs[ev.dirname] = out
	board.EndBullet(ev.dirname, text, true)
}

// runWorker owns one worker from launch to exit and always produces exactly
// one final event unless ctx is already cancelled.
func (d *Dispatcher) runWorker(ctx context.Context, env Envelope, credentials map[string]string, events chan<- event) {
	dirname := project.Dirname(env.Input.Project.Project)
	if ctx.Err() != nil {
		return
	}

	proc, err := d.launcher.Launch(ctx, dirname)
	if err != nil {
		log.ErrorLog.Printf("spawn worker %s: %v", dirname, err)
		events <- failureEvent(dirname, fmt.Errorf("spawn worker: %w", err))
		return
	}
	stop := context.AfterFunc(ctx, func() {
		log.WarningLog.Printf("interrupt: killing worker %s", dirname)
		_ = proc.Kill()
	})
	defer stop()

	sent := make(chan error, 1)
	go func() {
		w := relay.NewWriter(proc.Stdin, d.opts.RelayDir, d.opts.InlineLimit)
		_, err := w.Send(env, credentials)
		sent <- errors.Join(err, proc.Stdin.Close())
	}()

	final := false
	var recvErr error
	reader := relay.NewReader(proc.Stdout, d.opts.RelayDir)
	for {
		f, err := reader.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				recvErr = err
			}
			break
		}
		var msg ProgressMessage
		if err := f.Decode(&msg); err != nil {
			recvErr = err
			break
		}
		if final {
			log.WarningLog.Printf("worker %s sent a message after its final message", dirname)
			continue
		}
		msg.Dirname = dirname
		final = msg.Complete
		events <- event{dirname: dirname, msg: msg}
	}
	_, _ = io.Copy(io.Discard, proc.Stdout)

	sendErr := <-sent
	waitErr := proc.Wait()
	if final {
		if waitErr != nil {
			log.WarningLog.Printf("worker %s exited abnormally after its final message: %v", dirname, waitErr)
		}
		return
	}

	cause := errors.Join(sendErr, recvErr, waitErr)
	if cause == nil {
		cause = errors.New("worker exited without a final message")
	}
	log.ErrorLog.Printf("worker %s: infrastructure failure: %v", dirname, cause)
	ev := failureEvent(dirname, cause)
	if errors.Is(waitErr, ErrProjectNotFound) {
		ev.fatal = waitErr
	}
	events <- ev
}

func failureEvent(dirname string, err error) event {
	return event{dirname: dirname, msg: ProgressMessage{
		Dirname:  dirname,
		Complete: true,
		Output:   &Output{Error: err.Error()},
	}}
}

type nopBoard struct{}

func (nopBoard) ContinueBullet(string, string)  {}
func (nopBoard) EndBullet(string, string, bool) {}
func (nopBoard) Spin()                          {}
func (nopBoard) Done()                          {}
