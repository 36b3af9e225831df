package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWardenErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *WardenError
		wantErr  string
		wantUser string
	}{
		{
			name:     "what only",
			err:      &WardenError{What: "something broke"},
			wantErr:  "something broke",
			wantUser: "Error: something broke",
		},
		{
			name:     "what and why",
			err:      &WardenError{What: "something broke", Why: "bad input"},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input",
		},
		{
			name: "full error",
			err: &WardenError{
				What: "something broke",
				Why:  "bad input",
				Fix:  "try again",
			},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input\n\nFix: try again",
		},
		{
			name: "with cause",
			err: &WardenError{
				What:  "something broke",
				Cause: errors.New("underlying error"),
			},
			wantErr:  "something broke: underlying error",
			wantUser: "Error: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantErr {
				t.Errorf("Error() = %q, want %q", got, tt.wantErr)
			}
			if got := tt.err.UserMessage(); got != tt.wantUser {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := ErrNotSkippable("tests")
	if !errors.Is(err, &WardenError{Code: CodeNotSkippable}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, &WardenError{Code: CodeMissingReason}) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrStateIntegrity("state.json").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}

func TestAsWardenError(t *testing.T) {
	base := ErrRepoNotFound("/tmp")
	wrapped := Wrap(base, "startup failed")

	got := AsWardenError(wrapped)
	if got == nil {
		t.Fatal("AsWardenError returned nil")
	}
	// Wrap itself is a WardenError, so the outermost one wins.
	if got.Code != Code("UNKNOWN") {
		t.Errorf("Code = %s, want UNKNOWN", got.Code)
	}

	if AsWardenError(errors.New("plain")) != nil {
		t.Error("plain error should not convert")
	}
}

func TestMarshalJSON(t *testing.T) {
	err := ErrLockTimeout("state", "5s").WithCause(errors.New("flock: EWOULDBLOCK"))
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("marshal: %v", jerr)
	}

	var decoded map[string]any
	if jerr := json.Unmarshal(data, &decoded); jerr != nil {
		t.Fatalf("unmarshal: %v", jerr)
	}
	if decoded["code"] != string(CodeLockTimeout) {
		t.Errorf("code = %v, want %s", decoded["code"], CodeLockTimeout)
	}
	if decoded["cause"] != "flock: EWOULDBLOCK" {
		t.Errorf("cause = %v", decoded["cause"])
	}
}
