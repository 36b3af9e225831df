package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/workflow"
)

// outputCap bounds captured stdout and stderr, each.
const outputCap = 1 << 20

// killGrace is how long a timed-out child gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

var (
	templateRe = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)
	safeArgRe  = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

// expandArgv resolves {{variable}} references against vars. An element
// that is exactly one reference expands to the variable's value split
// on whitespace, so a setting like "go test ./..." becomes three argv
// elements. Every substituted field is re-validated against a strict
// character set; nothing is ever passed through a shell.
func expandArgv(argv []string, vars map[string]string) ([]string, error) {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		if m := templateRe.FindStringSubmatch(arg); m != nil && m[0] == arg {
			name := m[1]
			value, ok := vars[name]
			if !ok || strings.TrimSpace(value) == "" {
				return nil, werrors.ErrUnsafeTemplateArg(name, "(unset)")
			}
			for _, field := range strings.Fields(value) {
				if !safeArgRe.MatchString(field) {
					return nil, werrors.ErrUnsafeTemplateArg(name, value)
				}
				out = append(out, field)
			}
			continue
		}
		expanded := arg
		var unsafe error
		expanded = templateRe.ReplaceAllStringFunc(expanded, func(ref string) string {
			name := templateRe.FindStringSubmatch(ref)[1]
			value, ok := vars[name]
			if !ok || value == "" || !safeArgRe.MatchString(value) {
				unsafe = werrors.ErrUnsafeTemplateArg(name, value)
				return ref
			}
			return value
		})
		if unsafe != nil {
			return nil, unsafe
		}
		out = append(out, expanded)
	}
	return out, nil
}

// evalCommand executes a command gate. The argv never passes through a
// shell; the builtins true, false, and exit are emulated in-process so
// smoke-test workflows run on shell-less hosts.
func (e *Engine) evalCommand(ctx context.Context, g *workflow.GateDef, in Input) (*state.GateRecord, error) {
	argv, err := expandArgv(g.Argv, e.vars)
	if err != nil {
		return nil, err
	}

	if code, ok := emulateBuiltin(argv); ok {
		passed := code == g.ExpectExitCode
		return &state.GateRecord{
			Passed:   passed,
			ExitCode: &code,
			Details:  []string{fmt.Sprintf("%s exited %d (want %d)", argv[0], code, g.ExpectExitCode)},
		}, nil
	}

	timeout := time.Duration(g.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = workflow.DefaultCommandTimeoutS * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.baseDir
	cmd.Env = overlayEnv(g.Env)
	if g.Stdin != "" {
		cmd.Stdin = strings.NewReader(g.Stdin)
	}
	// SIGTERM first; SIGKILL after the grace period via WaitDelay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	stdout := newCappedBuffer(outputCap)
	stderr := newCappedBuffer(outputCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger.Debug("running gate command", "argv", argv, "timeout", timeout)

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, werrors.ErrGateTimeout(in.ItemID, timeout.String())
	}

	record := &state.GateRecord{}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		code := 0
		record.ExitCode = &code
	case errors.As(runErr, &exitErr):
		code := exitErr.ExitCode()
		record.ExitCode = &code
	default:
		// Not found, permission denied and friends.
		record.Passed = false
		record.Details = []string{fmt.Sprintf("exec %s: %v", argv[0], runErr)}
		return record, nil
	}

	record.Passed = *record.ExitCode == g.ExpectExitCode
	record.Details = []string{fmt.Sprintf("%s exited %d (want %d)", argv[0], *record.ExitCode, g.ExpectExitCode)}
	if !record.Passed {
		if tail := stderr.Tail(); tail != "" {
			record.Details = append(record.Details, "stderr: "+tail)
		}
		if tail := stdout.Tail(); tail != "" {
			record.Details = append(record.Details, "stdout: "+tail)
		}
	}
	return record, nil
}

// emulateBuiltin handles true, false, and exit without forking.
func emulateBuiltin(argv []string) (int, bool) {
	switch argv[0] {
	case "true":
		return 0, true
	case "false":
		return 1, true
	case "exit":
		if len(argv) > 1 {
			if n, err := strconv.Atoi(argv[1]); err == nil {
				return n, true
			}
		}
		return 0, true
	}
	return 0, false
}

func overlayEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

// cappedBuffer keeps at most cap bytes and notes when output was cut.
type cappedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	if room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	if len(p) > room {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }

// Tail returns the last few lines, trimmed, for gate details.
func (b *cappedBuffer) Tail() string {
	s := strings.TrimSpace(string(b.buf))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	tail := strings.Join(lines, "\n")
	if b.truncated {
		tail += " [output truncated]"
	}
	return tail
}
