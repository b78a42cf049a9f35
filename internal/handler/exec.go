package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/herd/internal/log"
	"github.com/mattjoyce/herd/internal/protocol"
	"github.com/mattjoyce/herd/internal/queue"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a handler process.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	defaultExecTimeout = 60 * time.Second
)

var ErrTimedOut = errors.New("handler timed out")

// ExecSpec describes a handler that runs one subprocess per job.
type ExecSpec struct {
	Name    string
	Command string
	Args    []string
	Timeout time.Duration
	Config  map[string]any
}

// ExecError carries the handler's error message and captured stderr.
type ExecError struct {
	Handler string
	Message string
	Stderr  string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("handler %s: %s", e.Handler, e.Message)
}

// NewExec builds a handler that writes a protocol request on the process's
// stdin and reads one response from its stdout. The process is stopped when
// spec.Timeout elapses or ctx ends.
func NewExec(spec ExecSpec) queue.Handler {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	cfg := spec.Config
	if cfg == nil {
		cfg = map[string]any{}
	}

	return func(ctx context.Context, args any, target queue.Target) (any, error) {
		req := &protocol.Request{
			Protocol:   protocol.Version,
			Multi:      target.Multi,
			Args:       args,
			Config:     cfg,
			DeadlineAt: time.Now().Add(timeout).UTC(),
		}
		for _, w := range target.Workers {
			req.Workers = append(req.Workers, protocol.WorkerRef{Index: w.Index, Identity: w.Identity, Kind: w.Kind})
		}

		logger := log.WithComponent("handler").With("handler", spec.Name)
		if job := queue.JobFromContext(ctx); job != nil {
			req.JobID = job.ID
			req.Type = job.Type
			logger = logger.With("job_id", job.ID)
		}

		resp, stderr, err := spawn(ctx, spec, req, timeout, logger)
		if err != nil {
			if errors.Is(err, ErrTimedOut) {
				return nil, fmt.Errorf("handler %s: %w after %v", spec.Name, ErrTimedOut, timeout)
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("handler %s: %w", spec.Name, err)
			}
			return nil, &ExecError{Handler: spec.Name, Message: err.Error(), Stderr: stderr}
		}

		for _, entry := range resp.Logs {
			logger.Info("handler log", "level", entry.Level, "message", entry.Message)
		}
		if resp.Status == "error" {
			return nil, &ExecError{Handler: spec.Name, Message: resp.Error, Stderr: stderr}
		}
		return resp.Result, nil
	}
}

func spawn(
	ctx context.Context,
	spec ExecSpec,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Not CommandContext: termination is SIGTERM first, then SIGKILL.
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.WaitDelay = terminationGracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning handler", "command", spec.Command, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("handler timed out, sending SIGTERM")
		terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ErrTimedOut

	case <-ctx.Done():
		logger.Warn("context done, sending SIGTERM")
		terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("handler exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode handler response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

func terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("handler exited after SIGTERM")
	case <-grace.C:
		logger.Warn("handler did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
