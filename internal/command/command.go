// Package command runs external tools with bounded timeouts and folds their
// output into size-limited errors.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// MaxOutput is how much of a failed command's output an Error keeps.
const MaxOutput = 300

// ErrTimeout marks a command killed by its deadline.
var ErrTimeout = errors.New("command timed out")

// Error describes a command that exited non-zero or timed out.
type Error struct {
	Name     string
	Args     []string
	ExitCode int
	TimedOut bool
	Output   string
	Err      error
}

func (e *Error) Error() string {
	cmd := strings.TrimSpace(e.Name + " " + strings.Join(e.Args, " "))
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out: %s", cmd, e.Output)
	}
	return fmt.Sprintf("%s: exit %d: %s", cmd, e.ExitCode, e.Output)
}

func (e *Error) Unwrap() error {
	if e.TimedOut {
		return ErrTimeout
	}
	return e.Err
}

// Truncate shortens s to n bytes of trimmed text, marking the cut.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// Runner executes one command to completion.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)
}

// Starter launches a long-lived process and returns a function that stops it.
type Starter interface {
	Start(name string, args ...string) (stop func() error, err error)
}

// Exec is the os/exec backed Runner and Starter.
type Exec struct {
	// Env is appended to the parent environment when set.
	Env []string
}

// Run executes name with a deadline of timeout (no deadline when zero) and
// returns stdout. Failures are *Error values with combined output truncated
// to MaxOutput.
func (x Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if len(x.Env) > 0 {
		cmd.Env = append(cmd.Environ(), x.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	cerr := &Error{
		Name:   name,
		Args:   args,
		Output: Truncate(stderr.String()+"\n"+stdout.String(), MaxOutput),
		Err:    err,
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cerr.TimedOut = true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	} else {
		cerr.ExitCode = -1
	}
	return stdout.Bytes(), cerr
}

// Start launches name detached from any context. The returned stop kills the
// process and waits for it.
func (x Exec) Start(name string, args ...string) (func() error, error) {
	cmd := exec.Command(name, args...)
	if len(x.Env) > 0 {
		cmd.Env = append(cmd.Environ(), x.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			select {
			case <-done:
				return
			default:
			}
			if kerr := cmd.Process.Kill(); kerr != nil {
				err = kerr
				return
			}
			<-done
		})
		return err
	}, nil
}
