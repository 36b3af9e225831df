// Package review dispatches review requests to external model
// executors with retry, fallback chains, and quorum accounting. The
// executors themselves are opaque; the router owns error
// classification, backoff, and result shaping.
package review

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType classifies an executor failure. Transient types are retried
// and may cascade down the fallback chain; permanent types stop the
// dispatch immediately.
type ErrorType string

const (
	ErrorKeyMissing   ErrorType = "KEY_MISSING"
	ErrorKeyInvalid   ErrorType = "KEY_INVALID"
	ErrorRateLimited  ErrorType = "RATE_LIMITED"
	ErrorNetwork      ErrorType = "NETWORK_ERROR"
	ErrorTimeout      ErrorType = "TIMEOUT"
	ErrorParse        ErrorType = "PARSE_ERROR"
	ErrorReviewFailed ErrorType = "REVIEW_FAILED"
)

// Transient reports whether the router should retry with backoff.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrorRateLimited, ErrorNetwork, ErrorTimeout:
		return true
	}
	return false
}

// Permanent reports whether retry and fallback are pointless.
func (t ErrorType) Permanent() bool {
	switch t {
	case ErrorKeyMissing, ErrorKeyInvalid:
		return true
	}
	return false
}

// severity orders error types for worst-error reporting. Credential
// problems outrank infrastructure hiccups: they need a human.
func (t ErrorType) severity() int {
	switch t {
	case ErrorKeyInvalid:
		return 7
	case ErrorKeyMissing:
		return 6
	case ErrorRateLimited:
		return 5
	case ErrorNetwork:
		return 4
	case ErrorTimeout:
		return 3
	case ErrorParse:
		return 2
	case ErrorReviewFailed:
		return 1
	}
	return 0
}

// Worse returns the more severe of two error types.
func Worse(a, b ErrorType) ErrorType {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// ExecError is the error executors return. StatusCode is the HTTP
// status when the executor is an API client, zero otherwise. Type may
// be set explicitly by executors that classify themselves.
type ExecError struct {
	StatusCode int
	Message    string
	Type       ErrorType
}

func (e *ExecError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("executor error (status %d): %s", e.StatusCode, e.Message)
	}
	return "executor error: " + e.Message
}

// Classify maps an executor error onto the taxonomy using HTTP status
// and message text.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var execErr *ExecError
	if errors.As(err, &execErr) {
		if execErr.Type != "" {
			return execErr.Type
		}
		if t := classifyStatus(execErr.StatusCode, execErr.Message); t != "" {
			return t
		}
		return classifyMessage(execErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorNetwork
	}
	return classifyMessage(err.Error())
}

func classifyStatus(status int, msg string) ErrorType {
	switch {
	case status == 401 || status == 403:
		if strings.Contains(strings.ToLower(msg), "missing") || strings.Contains(strings.ToLower(msg), "not set") {
			return ErrorKeyMissing
		}
		return ErrorKeyInvalid
	case status == 429:
		return ErrorRateLimited
	case status >= 500:
		return ErrorNetwork
	}
	return ""
}

func classifyMessage(msg string) ErrorType {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "api key") && (strings.Contains(m, "missing") || strings.Contains(m, "not set") || strings.Contains(m, "no api key")):
		return ErrorKeyMissing
	case strings.Contains(m, "invalid api key") || strings.Contains(m, "unauthorized"):
		return ErrorKeyInvalid
	case strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests"):
		return ErrorRateLimited
	case strings.Contains(m, "timeout") || strings.Contains(m, "deadline exceeded"):
		return ErrorTimeout
	case strings.Contains(m, "connection reset") || strings.Contains(m, "connection refused") || strings.Contains(m, "unexpected eof"):
		return ErrorNetwork
	case strings.Contains(m, "parse") || strings.Contains(m, "unparseable"):
		return ErrorParse
	}
	return ErrorNetwork
}
