package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Executor subprocess limits.
const (
	execDefaultTimeout = 2 * time.Minute
	execOutputCap      = 1 << 20
	execKillGrace      = 5 * time.Second
)

// CommandExecutor runs reviews through an external command. The command
// receives the review payload as JSON on stdin plus the review type and
// model as trailing arguments, and must print the model's JSON response
// on stdout. A non-zero exit is classified from stderr.
type CommandExecutor struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger
}

// execPayload is the stdin document handed to the review command.
type execPayload struct {
	ReviewType string  `json:"review_type"`
	Model      string  `json:"model"`
	Context    Context `json:"context"`
}

// NewCommandExecutor builds an executor from a whitespace-separated
// command line.
func NewCommandExecutor(command string, logger *slog.Logger) (*CommandExecutor, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("review executor command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandExecutor{argv: argv, timeout: execDefaultTimeout, logger: logger}, nil
}

// WithTimeout overrides the per-call deadline.
func (e *CommandExecutor) WithTimeout(d time.Duration) *CommandExecutor {
	e.timeout = d
	return e
}

// Call implements Executor.
func (e *CommandExecutor) Call(ctx context.Context, reviewType string, rc Context, model string) (string, Usage, error) {
	payload, err := json.Marshal(execPayload{ReviewType: reviewType, Model: model, Context: rc})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal review payload: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), e.argv[1:]...), reviewType, model)
	cmd := exec.CommandContext(ctx, e.argv[0], args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newLimitWriter(&stdout, execOutputCap)
	cmd.Stderr = newLimitWriter(&stderr, execOutputCap)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = execKillGrace

	e.logger.Debug("review executor call", "command", e.argv[0], "review_type", reviewType, "model", model)
	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", Usage{}, &ExecError{Type: ErrorTimeout, Message: "review command timed out"}
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// No explicit type; Classify reads the message.
			return "", Usage{}, &ExecError{Message: msg}
		}
		return "", Usage{}, &ExecError{Type: ErrorNetwork, Message: msg}
	}
	return stdout.String(), Usage{}, nil
}

// limitWriter caps how much output a child process can buffer.
type limitWriter struct {
	w   *bytes.Buffer
	max int
}

func newLimitWriter(w *bytes.Buffer, max int) *limitWriter {
	return &limitWriter{w: w, max: max}
}

func (l *limitWriter) Write(p []byte) (int, error) {
	room := l.max - l.w.Len()
	if room <= 0 {
		return len(p), nil
	}
	if len(p) > room {
		l.w.Write(p[:room])
		return len(p), nil
	}
	return l.w.Write(p)
}
