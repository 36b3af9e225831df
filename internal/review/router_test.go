package review

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/config"
)

// scriptedExec returns canned responses per model, in call order.
type scriptedExec struct {
	mu      sync.Mutex
	scripts map[string][]callResult
	calls   map[string]int
}

type callResult struct {
	raw string
	err error
}

func newScriptedExec() *scriptedExec {
	return &scriptedExec{scripts: map[string][]callResult{}, calls: map[string]int{}}
}

func (e *scriptedExec) on(model string, results ...callResult) {
	e.scripts[model] = results
}

func (e *scriptedExec) Call(_ context.Context, _ string, _ Context, model string) (string, Usage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.calls[model]
	e.calls[model] = n + 1

	script := e.scripts[model]
	if len(script) == 0 {
		return "", Usage{}, fmt.Errorf("no script for model %s", model)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	r := script[n]
	return r.raw, Usage{InputTokens: 10, OutputTokens: 5}, r.err
}

func (e *scriptedExec) callCount(model string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[model]
}

func fastBackoff() BackoffPolicy {
	return BackoffPolicy{Base: time.Millisecond, Factor: 2, MaxAttempts: 3, Jitter: 0.2}
}

func newTestRouter(exec Executor, settings config.ReviewSettings) *Router {
	return NewRouter(exec, settings, nil).WithBackoff(fastBackoff())
}

const passOutput = `{"verdict":"pass","findings":[]}`

func TestDispatchSuccess(t *testing.T) {
	exec := newScriptedExec()
	exec.on("model-a", callResult{raw: passOutput})

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 2})
	res := r.Dispatch(context.Background(), Request{ReviewType: "security", PrimaryModel: "model-a"})

	assert.True(t, res.Success)
	assert.Equal(t, "model-a", res.Model)
	assert.False(t, res.WasFallback)
	assert.Empty(t, res.FallbacksTried)
	assert.Equal(t, 1, exec.callCount("model-a"))
	assert.Zero(t, r.FallbacksUsed())
}

func TestDispatchRetriesTransientThenFallsBack(t *testing.T) {
	exec := newScriptedExec()
	exec.on("model-a", callResult{err: &ExecError{StatusCode: 429, Message: "too many requests"}})
	exec.on("model-b", callResult{raw: passOutput})

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 2})
	res := r.Dispatch(context.Background(), Request{
		ReviewType:    "security",
		PrimaryModel:  "model-a",
		FallbackChain: []string{"model-b"},
	})

	require.True(t, res.Success)
	assert.Equal(t, "model-b", res.Model)
	assert.True(t, res.WasFallback)
	assert.Equal(t, []string{"model-a"}, res.FallbacksTried)
	assert.Contains(t, res.FallbackReason, "429")
	assert.Equal(t, 3, exec.callCount("model-a"), "transient errors get the full retry budget")
	assert.Equal(t, 1, r.FallbacksUsed())
}

func TestDispatchPermanentNoRetryNoFallback(t *testing.T) {
	exec := newScriptedExec()
	exec.on("model-a", callResult{err: &ExecError{StatusCode: 401, Message: "invalid api key"}})
	exec.on("model-b", callResult{raw: passOutput})

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 2})
	res := r.Dispatch(context.Background(), Request{
		ReviewType:    "security",
		PrimaryModel:  "model-a",
		FallbackChain: []string{"model-b"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, ErrorKeyInvalid, res.ErrorType)
	assert.Equal(t, 1, exec.callCount("model-a"), "no retry on permanent errors")
	assert.Zero(t, exec.callCount("model-b"), "no fallback on permanent errors")
}

func TestDispatchAllModelsExhausted(t *testing.T) {
	exec := newScriptedExec()
	exec.on("model-a", callResult{err: &ExecError{StatusCode: 429, Message: "rate limit"}})
	exec.on("model-b", callResult{err: &ExecError{StatusCode: 503, Message: "upstream down"}})

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 2})
	res := r.Dispatch(context.Background(), Request{
		ReviewType:    "quality",
		PrimaryModel:  "model-a",
		FallbackChain: []string{"model-b"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, ErrorRateLimited, res.ErrorType, "worst error wins")
	assert.Equal(t, []string{"model-a", "model-b"}, res.FallbacksTried)
}

func TestDispatchReviewFailedIsVerdict(t *testing.T) {
	exec := newScriptedExec()
	exec.on("model-a", callResult{raw: `{"verdict":"fail","findings":[{"severity":"high","message":"sql injection","file":"db.go","line":42}]}`})
	exec.on("model-b", callResult{raw: passOutput})

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 2})
	res := r.Dispatch(context.Background(), Request{
		ReviewType:    "security",
		PrimaryModel:  "model-a",
		FallbackChain: []string{"model-b"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, ErrorReviewFailed, res.ErrorType)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "sql injection", res.Findings[0].Message)
	assert.Equal(t, 42, res.Findings[0].Line)
	assert.Zero(t, exec.callCount("model-b"), "a verdict is final, not an executor failure")
}

func TestDispatchParseErrorSingleRetryThenFallback(t *testing.T) {
	exec := newScriptedExec()
	exec.on("model-a", callResult{raw: "I think this code is fine!"})
	exec.on("model-b", callResult{raw: passOutput})

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 2})
	res := r.Dispatch(context.Background(), Request{
		ReviewType:    "quality",
		PrimaryModel:  "model-a",
		FallbackChain: []string{"model-b"},
	})

	require.True(t, res.Success)
	assert.True(t, res.WasFallback)
	assert.Equal(t, 2, exec.callCount("model-a"), "parse errors get exactly one retry")
}

func TestDispatchFallbackBudget(t *testing.T) {
	exec := newScriptedExec()
	for _, m := range []string{"m1", "m2", "m3", "m4"} {
		exec.on(m, callResult{err: &ExecError{StatusCode: 500, Message: "boom"}})
	}

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 1})
	res := r.Dispatch(context.Background(), Request{
		ReviewType:    "security",
		PrimaryModel:  "m1",
		FallbackChain: []string{"m2", "m3", "m4"},
	})

	assert.False(t, res.Success)
	assert.Positive(t, exec.callCount("m1"))
	assert.Positive(t, exec.callCount("m2"))
	assert.Zero(t, exec.callCount("m3"), "chain capped by max_fallback_attempts")
	assert.Zero(t, exec.callCount("m4"))
}

func TestDispatchChainFromSettings(t *testing.T) {
	exec := newScriptedExec()
	exec.on("cfg-model", callResult{raw: passOutput})

	settings := config.ReviewSettings{
		FallbackChains:      map[string][]string{"security": {"cfg-model"}},
		MaxFallbackAttempts: 2,
	}
	r := newTestRouter(exec, settings)
	res := r.Dispatch(context.Background(), Request{ReviewType: "security"})

	assert.True(t, res.Success)
	assert.Equal(t, "cfg-model", res.Model)
	assert.False(t, res.WasFallback, "first configured model is the primary")
}

func TestDispatchNoModels(t *testing.T) {
	r := newTestRouter(newScriptedExec(), config.ReviewSettings{})
	res := r.Dispatch(context.Background(), Request{ReviewType: "security"})
	assert.False(t, res.Success)
}

func TestDispatchAllParallel(t *testing.T) {
	exec := newScriptedExec()
	exec.on("model-a", callResult{raw: passOutput})

	r := newTestRouter(exec, config.ReviewSettings{MaxFallbackAttempts: 2})
	results := r.DispatchAll(context.Background(), []Request{
		{ReviewType: "security", PrimaryModel: "model-a"},
		{ReviewType: "quality", PrimaryModel: "model-a"},
	})

	require.Len(t, results, 2)
	assert.True(t, results["security"].Success)
	assert.True(t, results["quality"].Success)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{&ExecError{StatusCode: 401, Message: "invalid api key"}, ErrorKeyInvalid},
		{&ExecError{StatusCode: 403, Message: "key missing"}, ErrorKeyMissing},
		{&ExecError{StatusCode: 429, Message: "slow down"}, ErrorRateLimited},
		{&ExecError{StatusCode: 502, Message: "bad gateway"}, ErrorNetwork},
		{&ExecError{Message: "connection reset by peer"}, ErrorNetwork},
		{&ExecError{Message: "request timeout"}, ErrorTimeout},
		{&ExecError{Type: ErrorParse, Message: "whatever"}, ErrorParse},
		{context.DeadlineExceeded, ErrorTimeout},
		{fmt.Errorf("API key is not set"), ErrorKeyMissing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestWorse(t *testing.T) {
	assert.Equal(t, ErrorKeyInvalid, Worse(ErrorRateLimited, ErrorKeyInvalid))
	assert.Equal(t, ErrorRateLimited, Worse(ErrorRateLimited, ErrorTimeout))
	assert.Equal(t, ErrorTimeout, Worse("", ErrorTimeout))
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, BackoffPolicy{Base: time.Hour, Factor: 2, MaxAttempts: 3}, func(context.Context) error {
		calls++
		cancel()
		return &ExecError{StatusCode: 429, Message: "rate limit"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation preempts the backoff sleep")
}

func TestEvaluateQuorum(t *testing.T) {
	settings := config.ReviewSettings{
		RequiredReviews: []string{"security", "quality"},
		MinimumRequired: 1,
	}

	d := EvaluateQuorum(settings, map[string]*Result{
		"security": {Success: true},
		"quality":  {Success: false},
	})
	assert.True(t, d.Met)
	assert.Equal(t, 1, d.Succeeded)
	assert.Equal(t, []string{"quality"}, d.Failed)

	settings.MinimumRequired = 2
	d = EvaluateQuorum(settings, map[string]*Result{
		"security": {Success: true},
	})
	assert.False(t, d.Met)
	assert.Equal(t, []string{"quality"}, d.Failed)
}
