package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/workflow"
)

// evalArtifact checks a file under the gate's base directory. The path
// is confined before any read: a definition whose path statically
// escapes the base is a configuration error; symlink targets that
// escape at evaluation time fail the gate without touching the target.
func (e *Engine) evalArtifact(g *workflow.GateDef) (*state.GateRecord, error) {
	base := e.baseDir
	if g.BasePath != "" {
		if filepath.IsAbs(g.BasePath) {
			base = g.BasePath
		} else {
			base = filepath.Join(e.baseDir, g.BasePath)
		}
	}

	fail := func(format string, args ...any) *state.GateRecord {
		return &state.GateRecord{
			Passed:       false,
			Details:      []string{fmt.Sprintf(format, args...)},
			ArtifactPath: g.Path,
		}
	}

	if filepath.IsAbs(g.Path) || hasTraversal(g.Path) {
		return nil, werrors.ErrPathTraversal(g.Path)
	}
	resolved := filepath.Join(base, filepath.Clean(g.Path))
	if !within(base, resolved) {
		return nil, werrors.ErrPathTraversal(g.Path)
	}

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return fail("base directory not accessible: %v", err), nil
	}
	target, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return fail("%s: %s does not exist", g.Validator, g.Path), nil
		}
		return fail("%s not accessible: %v", g.Path, err), nil
	}
	if !within(realBase, target) {
		return fail("path traversal: %s resolves outside the base directory", g.Path), nil
	}

	fi, err := os.Stat(target)
	if err != nil {
		return fail("%s: %s does not exist", g.Validator, g.Path), nil
	}
	if fi.IsDir() {
		return fail("%s: %s is a directory", g.Validator, g.Path), nil
	}

	switch g.Validator {
	case workflow.ValidatorExists:
		// Stat succeeding is the whole check.
	case workflow.ValidatorNotEmpty:
		if fi.Size() == 0 {
			return fail("not_empty: %s is empty", g.Path), nil
		}
	case workflow.ValidatorMinSize:
		if fi.Size() < g.MinSize {
			return fail("min_size: %s is %d bytes, need at least %d", g.Path, fi.Size(), g.MinSize), nil
		}
	case workflow.ValidatorJSONValid:
		data, err := os.ReadFile(target)
		if err != nil {
			return fail("json_valid: read %s: %v", g.Path, err), nil
		}
		if !json.Valid(data) {
			return fail("json_valid: %s is not valid JSON", g.Path), nil
		}
	case workflow.ValidatorYAMLValid:
		data, err := os.ReadFile(target)
		if err != nil {
			return fail("yaml_valid: read %s: %v", g.Path, err), nil
		}
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fail("yaml_valid: %s is not valid YAML: %v", g.Path, err), nil
		}
	default:
		return fail("unknown validator %q", g.Validator), nil
	}

	return &state.GateRecord{
		Passed:       true,
		Details:      []string{fmt.Sprintf("%s: %s ok", g.Validator, g.Path)},
		ArtifactPath: g.Path,
	}, nil
}

func hasTraversal(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// within reports whether path is base or inside it.
func within(base, path string) bool {
	base = filepath.Clean(base)
	path = filepath.Clean(path)
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}
