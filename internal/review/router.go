package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/internal/config"
)

// Context is the material handed to a review executor.
type Context struct {
	Task        string   `json:"task"`
	Constraints []string `json:"constraints,omitempty"`
	Diff        string   `json:"diff,omitempty"`
	Files       []string `json:"files,omitempty"`
	PhaseNotes  []string `json:"phase_notes,omitempty"`
}

// Request asks for one review of a given type.
type Request struct {
	ReviewType    string
	Context       Context
	PrimaryModel  string
	FallbackChain []string
}

// Finding is one issue reported by a review model.
type Finding struct {
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Usage reports executor token consumption, for accounting only.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Result is the settled outcome of one review request.
type Result struct {
	ReviewType     string    `json:"review_type"`
	Success        bool      `json:"success"`
	Model          string    `json:"model,omitempty"`
	WasFallback    bool      `json:"was_fallback,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	FallbacksTried []string  `json:"fallbacks_tried,omitempty"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	Findings       []Finding `json:"findings,omitempty"`
	RawOutput      string    `json:"-"`
	Usage          Usage     `json:"usage,omitempty"`
}

// Executor is the opaque endpoint that actually performs a review.
// Implementations wrap HTTP APIs or CLI tools; errors should be
// *ExecError where the implementation can classify itself.
type Executor interface {
	Call(ctx context.Context, reviewType string, rc Context, model string) (rawOutput string, usage Usage, err error)
}

// Router drives review requests through retry and fallback. Stateless
// beyond a per-session counter of fallbacks used, kept for reporting.
type Router struct {
	exec     Executor
	settings config.ReviewSettings
	backoff  BackoffPolicy
	logger   *slog.Logger

	mu            sync.Mutex
	fallbacksUsed int
}

// NewRouter builds a router over one executor.
func NewRouter(exec Executor, settings config.ReviewSettings, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		exec:     exec,
		settings: settings,
		backoff:  DefaultBackoff(),
		logger:   logger,
	}
}

// WithBackoff overrides the retry policy, mainly for tests.
func (r *Router) WithBackoff(p BackoffPolicy) *Router {
	r.backoff = p
	return r
}

// FallbacksUsed reports how many fallback invocations this router has
// made over its lifetime.
func (r *Router) FallbacksUsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbacksUsed
}

// Dispatch runs one review request to completion: retry the primary
// with backoff, cascade through the fallback chain on transient
// exhaustion, stop dead on permanent errors.
func (r *Router) Dispatch(ctx context.Context, req Request) *Result {
	models := r.modelChain(req)
	if len(models) == 0 {
		return &Result{
			ReviewType: req.ReviewType,
			Success:    false,
			ErrorType:  ErrorKeyMissing,
			FallbackReason: fmt.Sprintf(
				"no model configured for review type %q", req.ReviewType),
		}
	}

	var (
		tried   []string
		lastErr error
		worst   ErrorType
	)
	for i, model := range models {
		var out parsedOutput
		err := RetryWithBackoff(ctx, r.backoff, func(ctx context.Context) error {
			raw, usage, callErr := r.exec.Call(ctx, req.ReviewType, req.Context, model)
			if callErr != nil {
				return callErr
			}
			parsed, parseErr := parseOutput(raw)
			if parseErr != nil {
				return parseErr
			}
			parsed.usage = usage
			out = parsed
			if parsed.failed {
				return &ExecError{Type: ErrorReviewFailed, Message: "review reported blocking findings"}
			}
			return nil
		})

		if err == nil {
			res := &Result{
				ReviewType:     req.ReviewType,
				Success:        true,
				Model:          model,
				WasFallback:    i > 0,
				FallbacksTried: tried,
				Findings:       out.findings,
				RawOutput:      out.raw,
				Usage:          out.usage,
			}
			if i > 0 {
				res.FallbackReason = lastErr.Error()
				r.mu.Lock()
				r.fallbacksUsed += i
				r.mu.Unlock()
			}
			return res
		}

		t := Classify(err)
		worst = Worse(worst, t)
		lastErr = err
		r.logger.Warn("review call failed",
			"review_type", req.ReviewType, "model", model, "error_type", t, "error", err)

		if t == ErrorReviewFailed {
			// A verdict, not an infrastructure failure. No fallback.
			return &Result{
				ReviewType:     req.ReviewType,
				Success:        false,
				Model:          model,
				WasFallback:    i > 0,
				FallbacksTried: tried,
				ErrorType:      ErrorReviewFailed,
				Findings:       out.findings,
				RawOutput:      out.raw,
				Usage:          out.usage,
			}
		}
		if t.Permanent() {
			// Credentials will not heal on a different attempt.
			return &Result{
				ReviewType:     req.ReviewType,
				Success:        false,
				Model:          model,
				FallbacksTried: tried,
				ErrorType:      t,
				FallbackReason: err.Error(),
			}
		}
		tried = append(tried, model)
	}

	return &Result{
		ReviewType:     req.ReviewType,
		Success:        false,
		FallbacksTried: tried,
		ErrorType:      worst,
		FallbackReason: lastErr.Error(),
	}
}

// DispatchAll runs several review requests in parallel and returns
// results keyed by review type. Individual failures do not abort the
// batch; every request settles.
func (r *Router) DispatchAll(ctx context.Context, reqs []Request) map[string]*Result {
	results := make(map[string]*Result, len(reqs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, req := range reqs {
		g.Go(func() error {
			res := r.Dispatch(ctx, req)
			mu.Lock()
			results[req.ReviewType] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// modelChain assembles [primary, fallbacks...] capped by the configured
// fallback budget.
func (r *Router) modelChain(req Request) []string {
	chain := req.FallbackChain
	if chain == nil {
		chain = r.settings.FallbackChains[req.ReviewType]
	}

	var models []string
	if req.PrimaryModel != "" {
		models = append(models, req.PrimaryModel)
		models = append(models, chain...)
	} else {
		models = append(models, chain...)
	}

	maxFallbacks := r.settings.MaxFallbackAttempts
	if maxFallbacks < 0 {
		maxFallbacks = 0
	}
	if len(models) > 1+maxFallbacks {
		models = models[:1+maxFallbacks]
	}
	return models
}

// parsedOutput is the structured form of a model's raw response.
type parsedOutput struct {
	raw      string
	findings []Finding
	failed   bool
	usage    Usage
}

// parseOutput extracts findings and the verdict from a model response.
// Responses must be JSON; a "verdict" of "fail" (or blocking=true)
// marks the review as failed with its findings attached.
func parseOutput(raw string) (parsedOutput, error) {
	if !gjson.Valid(raw) {
		return parsedOutput{}, &ExecError{Type: ErrorParse, Message: "model returned non-JSON output"}
	}
	out := parsedOutput{raw: raw}

	verdict := gjson.Get(raw, "verdict")
	if verdict.Exists() && verdict.String() == "fail" {
		out.failed = true
	}
	if gjson.Get(raw, "blocking").Bool() {
		out.failed = true
	}

	for _, f := range gjson.Get(raw, "findings").Array() {
		out.findings = append(out.findings, Finding{
			Severity: f.Get("severity").String(),
			Message:  f.Get("message").String(),
			File:     f.Get("file").String(),
			Line:     int(f.Get("line").Int()),
		})
	}
	return out, nil
}

// QuorumDecision reports whether enough required reviews succeeded.
type QuorumDecision struct {
	Required  int
	Succeeded int
	Met       bool
	Failed    []string // review types that did not succeed
}

// EvaluateQuorum checks the minimum_required condition against settled
// results for the configured required review types.
func EvaluateQuorum(settings config.ReviewSettings, results map[string]*Result) QuorumDecision {
	d := QuorumDecision{Required: settings.MinimumRequired}
	for _, rt := range settings.RequiredReviews {
		res, ok := results[rt]
		if ok && res.Success {
			d.Succeeded++
		} else {
			d.Failed = append(d.Failed, rt)
		}
	}
	d.Met = d.Succeeded >= d.Required
	return d
}
