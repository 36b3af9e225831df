// Package audit provides the append-only, hash-chained audit log.
//
// Each line is a compact JSON record whose entry_hash is
// SHA256(prev_hash || canonical(data)), linking it to the previous entry.
// Any byte change to a recorded entry breaks the chain from that sequence
// number onward.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/util"
)

// Kind identifies the audited event.
type Kind string

const (
	KindWorkflowStart     Kind = "workflow_start"
	KindWorkflowFinish    Kind = "workflow_finish"
	KindPhaseTransition   Kind = "phase_transition"
	KindItemComplete      Kind = "item_complete"
	KindItemSkip          Kind = "item_skip"
	KindGatePass          Kind = "gate_pass"
	KindGateFail          Kind = "gate_fail"
	KindGateBypass        Kind = "gate_bypass"
	KindReviewStarted     Kind = "review_started"
	KindReviewCompleted   Kind = "review_completed"
	KindCheckpointCreated Kind = "checkpoint_created"
	KindModeDetected      Kind = "mode_detected"
	KindEmergencyOverride Kind = "emergency_override"
)

// tailWindow bounds how much of the file is read to find the last entry.
const tailWindow = 4096

// Entry is one audit record.
type Entry struct {
	Seq       int64          `json:"seq"`
	TS        string         `json:"ts"`
	PrevHash  string         `json:"prev_hash"`
	EntryHash string         `json:"entry_hash"`
	Kind      Kind           `json:"kind"`
	Data      map[string]any `json:"data"`
}

// Log appends and verifies audit records for one session.
type Log struct {
	path   string
	locks  *lock.Manager
	logger *slog.Logger
}

// New creates an audit log over the given file, serialized by locks.
func New(path string, locks *lock.Manager, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{path: path, locks: locks, logger: logger}
}

// Path returns the audit file location.
func (l *Log) Path() string { return l.path }

// Append writes one record under the exclusive audit lock. Data values
// are sanitized: absolute paths are reduced to their basename so the
// audit store never leaks machine-local layout.
func (l *Log) Append(kind Kind, data map[string]any) error {
	h, err := l.locks.Acquire(lock.ResourceAudit, lock.Exclusive, 0)
	if err != nil {
		return err
	}
	defer h.Release()

	prevSeq, prevHash, err := l.lastEntry()
	if err != nil {
		return err
	}

	sanitized := sanitize(data)
	entryHash, err := hashEntry(prevHash, sanitized)
	if err != nil {
		return err
	}

	entry := Entry{
		Seq:       prevSeq + 1,
		TS:        time.Now().UTC().Format(time.RFC3339),
		PrevHash:  prevHash,
		EntryHash: entryHash,
		Kind:      kind,
		Data:      sanitized,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return f.Sync()
}

// lastEntry reads the tail of the file (bounded to the last 4 KiB) and
// returns the final sequence number and entry hash.
func (l *Log) lastEntry() (int64, string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, "", fmt.Errorf("stat audit log: %w", err)
	}
	if fi.Size() == 0 {
		return 0, "", nil
	}

	offset := fi.Size() - tailWindow
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, "", fmt.Errorf("seek audit log: %w", err)
	}
	buf, err := io.ReadAll(f)
	if err != nil {
		return 0, "", fmt.Errorf("read audit tail: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	last := lines[len(lines)-1]
	if offset > 0 && len(lines) == 1 {
		// The window landed inside a single oversized line; fall back to
		// a full scan rather than guessing.
		return l.lastEntryFull()
	}

	var entry Entry
	if err := json.Unmarshal([]byte(last), &entry); err != nil {
		return 0, "", fmt.Errorf("parse last audit entry: %w", err)
	}
	return entry.Seq, entry.EntryHash, nil
}

func (l *Log) lastEntryFull() (int64, string, error) {
	entries, err := l.readAll()
	if err != nil {
		return 0, "", err
	}
	if len(entries) == 0 {
		return 0, "", nil
	}
	last := entries[len(entries)-1]
	return last.Seq, last.EntryHash, nil
}

func (l *Log) readAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parse audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}

// Entries returns all records, read under a shared lock.
func (l *Log) Entries() ([]Entry, error) {
	h, err := l.locks.Acquire(lock.ResourceAudit, lock.Shared, 0)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return l.readAll()
}

// VerifyResult reports the outcome of a chain walk.
type VerifyResult struct {
	Entries   int
	OK        bool
	BrokenSeq int64
	Reason    string
}

// VerifyChain recomputes every entry hash and checks prev_hash linkage.
// Comparisons are constant-time.
func (l *Log) VerifyChain() (*VerifyResult, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Entries: len(entries), OK: true}
	prevHash := ""
	var prevSeq int64
	for _, e := range entries {
		if e.Seq != prevSeq+1 {
			return broken(result, e.Seq, fmt.Sprintf("sequence gap: got %d after %d", e.Seq, prevSeq)), nil
		}
		if !util.ConstantTimeEqual(e.PrevHash, prevHash) {
			return broken(result, e.Seq, "prev_hash does not match preceding entry"), nil
		}
		want, err := hashEntry(prevHash, e.Data)
		if err != nil {
			return nil, err
		}
		if !util.ConstantTimeEqual(e.EntryHash, want) {
			return broken(result, e.Seq, "entry_hash does not match data"), nil
		}
		prevHash = e.EntryHash
		prevSeq = e.Seq
	}
	return result, nil
}

func broken(r *VerifyResult, seq int64, reason string) *VerifyResult {
	r.OK = false
	r.BrokenSeq = seq
	r.Reason = reason
	return r
}

// hashEntry computes SHA256(prev_hash || canonical(data)) in hex.
func hashEntry(prevHash string, data map[string]any) (string, error) {
	canonical, err := util.CanonicalJSON(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit data: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sanitize returns a copy of data with absolute path strings reduced to
// their basename, recursively. Secrets never reach this layer; paths are
// the remaining machine-local detail to scrub.
func sanitize(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		if filepath.IsAbs(val) {
			return filepath.Base(val)
		}
		return val
	case map[string]any:
		return sanitize(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
