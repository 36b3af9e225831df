// Package engine drives the workflow state machine: starting workflows,
// completing and skipping items, advancing phases, and finishing. Every
// mutation runs lock-load-validate-apply-save against the session state
// file; gate commands and review calls execute with no lock held.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/gate"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/mode"
	"github.com/wardenhq/warden/internal/paths"
	"github.com/wardenhq/warden/internal/review"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/util"
	"github.com/wardenhq/warden/internal/workflow"
)

// Engine coordinates one session's workflow.
type Engine struct {
	paths    *paths.Paths
	locks    *lock.Manager
	audit    *audit.Log
	gates    *gate.Engine
	router   *review.Router
	policy   *mode.Policy
	pub      events.Publisher
	def      *workflow.WorkflowDef
	settings config.Settings
	logger   *slog.Logger

	modeOnce sync.Once
}

// Deps are the engine's collaborators. Nil fields get defaults wired
// from the session paths; Router stays nil when no review executor is
// configured, in which case review items fail with a credential error.
type Deps struct {
	Locks     *lock.Manager
	Audit     *audit.Log
	Gates     *gate.Engine
	Router    *review.Router
	Policy    *mode.Policy
	Publisher events.Publisher
	Logger    *slog.Logger
}

// New builds an engine for the session that p resolves.
func New(p *paths.Paths, def *workflow.WorkflowDef, d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locks := d.Locks
	if locks == nil {
		locks = lock.NewManager(p.LocksDir())
	}
	auditLog := d.Audit
	if auditLog == nil {
		auditLog = audit.New(p.AuditFile(), locks, logger)
	}
	settings := def.Settings
	policy := d.Policy
	if policy == nil {
		det := mode.NewDetector(settings.OperatorMode).Detect()
		policy = mode.NewPolicy(settings.SupervisionMode, det)
	}
	gates := d.Gates
	if gates == nil {
		gates = gate.New(p.RepoRoot(), settings.TemplateVars(), policy, logger)
	}
	pub := d.Publisher
	if pub == nil {
		pub = events.NewPersistentPublisher(events.NewMemoryPublisher(), p.LogFile(), logger)
	}
	return &Engine{
		paths:    p,
		locks:    locks,
		audit:    auditLog,
		gates:    gates,
		router:   d.Router,
		policy:   policy,
		pub:      pub,
		def:      def,
		settings: settings,
		logger:   logger,
	}
}

// Policy returns the supervision policy in force.
func (e *Engine) Policy() *mode.Policy { return e.policy }

// Subscribe returns a live channel of this engine's events. Use
// events.GlobalWorkflowID to observe every workflow in the session.
func (e *Engine) Subscribe(workflowID string) <-chan events.Event {
	return e.pub.Subscribe(workflowID)
}

// NewWorkflowID mints a workflow identifier.
func NewWorkflowID() string {
	return "wf-" + util.ShortID(uuid.NewString())
}

// ShareHash derives the non-reversible identifier used when a workflow
// is referenced outside the repository. saltEnvVar names the environment
// variable holding the salt; an unset salt falls back to the build-time
// default so hashes stay stable across machines.
func ShareHash(workflowID, saltEnvVar string) string {
	if saltEnvVar == "" {
		saltEnvVar = config.EnvIDSalt
	}
	salt := os.Getenv(saltEnvVar)
	if salt == "" {
		salt = config.DefaultIDSalt
	}
	h := sha256.Sum256([]byte(salt + workflowID))
	return hex.EncodeToString(h[:])[:12]
}

// withState runs fn under the session state lock.
func (e *Engine) withState(m lock.LockMode, fn func() error) error {
	h, err := e.locks.Acquire(lock.ResourceState, m, 0)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn()
}

// auditModeDetected records the operator classification once per process,
// on the first mutating operation.
func (e *Engine) auditModeDetected() {
	e.modeOnce.Do(func() {
		det := e.policy.Detection()
		err := e.audit.Append(audit.KindModeDetected, map[string]any{
			"mode":       string(det.Mode),
			"confidence": det.Confidence,
			"reason":     det.Reason,
			"overridden": det.Overridden,
		})
		if err != nil {
			e.logger.Warn("audit mode detection failed", "error", err)
		}
	})
}

func now() *time.Time {
	t := time.Now().UTC()
	return &t
}

// Start creates a new workflow in the session. A session holds at most
// one non-terminal workflow; starting over a live one fails.
func (e *Engine) Start(task string, constraints []string) (*state.WorkflowState, error) {
	if err := e.paths.EnsureSessionDir(); err != nil {
		return nil, err
	}
	e.auditModeDetected()

	var st *state.WorkflowState
	err := e.withState(lock.Exclusive, func() error {
		existing, _, err := state.LoadForSession(e.paths)
		if err == nil && !existing.IsTerminal() {
			return werrors.ErrAlreadyActive(existing.WorkflowID)
		}
		if err != nil {
			if werr := werrors.AsWardenError(err); werr == nil || werr.Code != werrors.CodeWorkflowNotFound {
				return err
			}
		}

		st = e.newState(task, constraints)
		return state.Save(st, e.paths.StateFile())
	})
	if err != nil {
		return nil, err
	}

	if err := e.audit.Append(audit.KindWorkflowStart, map[string]any{
		"workflow_id": st.WorkflowID,
		"task":        task,
		"phases":      len(st.Phases),
	}); err != nil {
		return nil, err
	}
	e.pub.Publish(events.NewEvent(events.EventWorkflowStarted, st.WorkflowID, map[string]any{"task": task}))
	return st, nil
}

// newState instantiates runtime state from the definition: all items
// pending, the first phase in progress.
func (e *Engine) newState(task string, constraints []string) *state.WorkflowState {
	ts := time.Now().UTC()
	st := &state.WorkflowState{
		WorkflowID:  NewWorkflowID(),
		Task:        task,
		Constraints: append([]string(nil), constraints...),
		Status:      state.WorkflowActive,
		PhaseCursor: 0,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		Metadata:    map[string]any{},
	}
	for i, pd := range e.def.Phases {
		ps := state.PhaseState{ID: pd.ID, Status: state.StatusPending}
		if i == 0 {
			ps.Status = state.StatusInProgress
			ps.StartedAt = now()
		}
		for _, it := range pd.Items {
			ps.Items = append(ps.Items, state.ItemState{ID: it.ID, Status: state.StatusPending})
		}
		st.Phases = append(st.Phases, ps)
	}
	return st
}

// ItemReport is one item row in a status report.
type ItemReport struct {
	ID        string       `json:"id"`
	Name      string       `json:"name,omitempty"`
	Status    state.Status `json:"status"`
	Required  bool         `json:"required"`
	Skippable bool         `json:"skippable"`
	Review    string       `json:"review_type,omitempty"`
}

// Report is a read-only view of the session workflow.
type Report struct {
	WorkflowID string                 `json:"workflow_id"`
	ShareHash  string                 `json:"share_hash"`
	Task       string                 `json:"task"`
	Status     state.WorkflowStatus   `json:"status"`
	Phase      string                 `json:"phase,omitempty"`
	PhaseIndex int                    `json:"phase_index"`
	PhaseCount int                    `json:"phase_count"`
	Items      []ItemReport           `json:"items,omitempty"`
	NextItem   string                 `json:"next_item,omitempty"`
	Blockers   []string               `json:"blockers,omitempty"`
	FromLegacy bool                   `json:"from_legacy,omitempty"`
	Mode       config.SupervisionMode `json:"supervision_mode"`
	Operator   mode.Detection         `json:"operator"`
}

// Status reports the workflow without mutating it. Legacy state files
// are readable here; they are only migrated by the next mutation.
func (e *Engine) Status() (*Report, error) {
	var (
		st         *state.WorkflowState
		fromLegacy bool
	)
	err := e.withState(lock.Shared, func() error {
		var err error
		st, fromLegacy, err = state.LoadForSession(e.paths)
		return err
	})
	if err != nil {
		return nil, err
	}

	r := &Report{
		WorkflowID: st.WorkflowID,
		ShareHash:  ShareHash(st.WorkflowID, e.settings.SaltEnvVar),
		Task:       st.Task,
		Status:     st.Status,
		PhaseIndex: st.PhaseCursor,
		PhaseCount: len(st.Phases),
		FromLegacy: fromLegacy,
		Mode:       e.policy.Mode(),
		Operator:   e.policy.Detection(),
	}

	ps := st.ActivePhase()
	if ps == nil {
		return r, nil
	}
	r.Phase = ps.ID
	pd := e.def.Phase(ps.ID)
	for i := range ps.Items {
		is := &ps.Items[i]
		ir := ItemReport{ID: is.ID, Status: is.Status}
		if pd != nil {
			if di := pd.Item(is.ID); di != nil {
				ir.Name = di.Name
				ir.Required = di.Required
				ir.Skippable = di.Skippable
				ir.Review = di.ReviewType
			}
		}
		r.Items = append(r.Items, ir)
		if r.NextItem == "" && !is.Status.IsTerminal() {
			r.NextItem = is.ID
		}
	}
	if pd != nil {
		r.Blockers = blockers(pd, ps, e.quorumGated(pd))
	}
	return r, nil
}

// blockers lists required items in the phase that are neither completed
// nor skipped. Items whose review type is in gated are excluded: the
// quorum decision owns them.
func blockers(pd *workflow.PhaseDef, ps *state.PhaseState, gated map[string]bool) []string {
	var out []string
	for _, di := range pd.Items {
		if !di.Required {
			continue
		}
		if di.ReviewType != "" && gated[di.ReviewType] {
			continue
		}
		is := ps.Item(di.ID)
		if is == nil || (is.Status != state.StatusCompleted && is.Status != state.StatusSkipped) {
			out = append(out, di.ID)
		}
	}
	return out
}

// quorumGated returns the set of review types the quorum decision owns
// for the phase, or nil when no quorum is configured.
func (e *Engine) quorumGated(pd *workflow.PhaseDef) map[string]bool {
	if pd == nil || !pd.HasReviews() || len(e.settings.Review.RequiredReviews) == 0 {
		return nil
	}
	gated := make(map[string]bool, len(e.settings.Review.RequiredReviews))
	for _, rt := range e.settings.Review.RequiredReviews {
		gated[rt] = true
	}
	return gated
}
