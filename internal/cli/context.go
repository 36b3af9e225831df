package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/paths"
	"github.com/wardenhq/warden/internal/review"
	"github.com/wardenhq/warden/internal/session"
	"github.com/wardenhq/warden/internal/workflow"
)

// app bundles everything a command needs: resolved paths, the merged
// settings, the workflow definition, and a ready engine.
type app struct {
	paths    *paths.Paths
	sessions *session.Manager
	settings config.Settings
	def      *workflow.WorkflowDef
	engine   *engine.Engine
	logger   *slog.Logger
}

// loadApp resolves the repository and session and wires the engine.
// When create is false a missing current session is an error instead of
// being created, so read-only commands never write.
func loadApp(create bool) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	p, err := paths.NewPaths(cwd, "", paths.ModeNormal)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	mgr := session.NewManager(p, logger)
	sid := sessionFlag
	if sid == "" {
		if create {
			sid, err = mgr.CurrentOrCreate()
		} else {
			sid, err = mgr.GetCurrent()
			if err == nil && sid == "" {
				return nil, fmt.Errorf("no current session; run 'warden start' or 'warden sessions new' first")
			}
		}
		if err != nil {
			return nil, err
		}
	}
	p = p.WithSession(sid)
	mgr = session.NewManager(p, logger)

	def, settings, err := loadDefinition(p.RepoRoot())
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{Logger: logger}
	if cmdline := os.Getenv(config.EnvReviewCmd); cmdline != "" {
		exec, err := review.NewCommandExecutor(cmdline, logger)
		if err != nil {
			return nil, err
		}
		deps.Router = review.NewRouter(exec, settings.Review, logger)
	}

	return &app{
		paths:    p,
		sessions: mgr,
		settings: settings,
		def:      def,
		engine:   engine.New(p, def, deps),
		logger:   logger,
	}, nil
}

// loadAppRepoOnly resolves the repository without binding to a session.
// Used by commands that manage sessions themselves.
func loadAppRepoOnly() (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	p, err := paths.NewPaths(cwd, "", paths.ModeNormal)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	return &app{paths: p, sessions: session.NewManager(p, logger), logger: logger}, nil
}

// loadDefinition layers configuration: built-in defaults, then config
// files and WARDEN_* env, then the repo's workflow.yaml. The supervision
// env override is applied last so it always wins.
func loadDefinition(repoRoot string) (*workflow.WorkflowDef, config.Settings, error) {
	base, err := config.Load(repoRoot)
	if err != nil {
		return nil, base, err
	}

	var def *workflow.WorkflowDef
	wfPath := filepath.Join(repoRoot, "workflow.yaml")
	if _, statErr := os.Stat(wfPath); statErr == nil {
		def, err = workflow.LoadFileWithDefaults(wfPath, base)
		if err != nil {
			return nil, base, err
		}
	} else {
		def = workflow.Builtin()
		def.Settings = base
	}

	if m := os.Getenv(config.EnvSupervision); m != "" {
		def.Settings.SupervisionMode = config.SupervisionMode(m)
	}
	return def, def.Settings, nil
}
