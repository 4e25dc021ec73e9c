package jobtype

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/reroute/internal/config"
	"github.com/mattjoyce/reroute/internal/queue"
)

const (
	// maxStderrBytes caps the amount of stderr kept from an exec handler.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 5 * time.Second

	defaultExecTimeout = 60 * time.Second
)

// ExecHandler runs entrypoint once per job with the record as JSON on stdin.
// A non-zero exit is a job failure; the error carries the captured stderr.
func ExecHandler(entrypoint string, timeout time.Duration, logger *slog.Logger) HandlerFunc {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return func(ctx context.Context, rec queue.Record) error {
		input, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, entrypoint)
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = terminationGracePeriod
		cmd.Stdin = bytes.NewReader(input)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		logger.Debug("spawning job handler", "entrypoint", entrypoint, "timeout", timeout)
		err = cmd.Run()
		if stdout.Len() > 0 {
			logger.Info("job handler output", "stdout", truncate(stdout.String()))
		}
		if err == nil {
			return nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("job handler timed out after %v: %s", timeout, truncate(stderr.String()))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("job handler exited with status %d: %s", exitErr.ExitCode(), truncate(stderr.String()))
		}
		return fmt.Errorf("run job handler: %w", err)
	}
}

// LogHandler only records that the job ran.
func LogHandler(logger *slog.Logger) HandlerFunc {
	return func(ctx context.Context, rec queue.Record) error {
		logger.Info("job performed", "job_id", rec.ID(), "type", rec.Type(), "queue", rec.Queue(), "args", rec[queue.FieldArgs])
		return nil
	}
}

// FromConfig builds a registry from configured job types. Types with an exec
// entrypoint run it; the rest use LogHandler.
func FromConfig(types map[string]config.JobTypeConf, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for name, jt := range types {
		typeLogger := logger.With("type", name)
		handler := LogHandler(typeLogger)
		if jt.Exec != "" {
			handler = ExecHandler(jt.Exec, jt.Timeout, typeLogger)
		}
		d := &Descriptor{
			Name:        name,
			Queue:       jt.Queue,
			Reroutable:  jt.Reroutable,
			MaxAttempts: jt.MaxAttempts,
			Timeout:     jt.Timeout,
			Handler:     handler,
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func truncate(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
