package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"rflow/internal/flags"
)

// WorkerCommand is the hidden CLI command a re-executed binary runs as a worker.
const WorkerCommand = "__worker"

// ErrKilled is reported by processes terminated through Kill.
var ErrKilled = errors.New("worker killed")

// Process is one live worker. Stdout must be drained before Wait is called.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Wait   func() error
	Kill   func() error
}

type Launcher interface {
	Launch(ctx context.Context, dirname string) (*Process, error)
}

// ExecLauncher starts workers as child processes.
type ExecLauncher struct {
	Path string
	Args []string
	Env  []string
}

// NewExecLauncher re-executes the running binary with WorkerCommand.
// Workers share relayDir with the dispatcher.
func NewExecLauncher(relayDir string) (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{WorkerCommand}
	if relayDir != "" {
		args = append(args, "--"+flags.FlagRelayDir, relayDir)
	}
	return &ExecLauncher{Path: exe, Args: args}, nil
}

func (l *ExecLauncher) Launch(ctx context.Context, dirname string) (*Process, error) {
	args := append(append([]string(nil), l.Args...), dirname)
	cmd := exec.Command(l.Path, args...)
	cmd.Env = append(os.Environ(), l.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{limit: 4 << 10}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", dirname, err)
	}

	var killed atomic.Bool
	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Wait: func() error {
			err := cmd.Wait()
			if killed.Load() {
				return ErrKilled
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitProjectNotFound {
				return fmt.Errorf("%w: %s", ErrProjectNotFound, strings.TrimSpace(stderr.String()))
			}
			if err != nil {
				if msg := strings.TrimSpace(stderr.String()); msg != "" {
					return fmt.Errorf("%w: %s", err, msg)
				}
				return err
			}
			return nil
		},
		Kill: func() error {
			if killed.Swap(true) {
				return nil
			}
			return cmd.Process.Kill()
		},
	}, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// WorkerFunc is a worker body run in-process by FuncLauncher.
type WorkerFunc func(ctx context.Context, dirname string, stdin io.Reader, stdout io.Writer) error

// FuncLauncher runs workers as goroutines connected through pipes. The
// message stream is identical to ExecLauncher's.
type FuncLauncher struct {
	Fn WorkerFunc
}

func (l FuncLauncher) Launch(ctx context.Context, dirname string) (*Process, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	wctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		err := l.Fn(wctx, dirname, inR, outW)
		_ = outW.Close()
		_ = inR.Close()
		done <- err
	}()

	var killed atomic.Bool
	return &Process{
		Stdin:  inW,
		Stdout: outR,
		Wait: func() error {
			err := <-done
			cancel()
			if killed.Load() {
				return ErrKilled
			}
			return err
		},
		Kill: func() error {
			if killed.Swap(true) {
				return nil
			}
			cancel()
			_ = inR.CloseWithError(ErrKilled)
			_ = outW.CloseWithError(ErrKilled)
			return nil
		},
	}, nil
}
