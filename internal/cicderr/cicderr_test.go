package cicderr

import (
	"errors"
	"testing"
)

func TestNewDefaultsNilContext(t *testing.T) {
	err := New(KindValidation, "bad input", nil)
	if err.Context == nil {
		t.Error("expected non-nil Context")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(KindDockerOperation, cause, "docker call failed", nil)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindPortConflict, "port in use", map[string]any{"port": 8080})
	if !Is(err, KindPortConflict) {
		t.Error("expected Is to match KindPortConflict")
	}
	if Is(err, KindBuild) {
		t.Error("expected Is not to match an unrelated kind")
	}
	if Is(errors.New("plain error"), KindValidation) {
		t.Error("expected Is to return false for a non-*Error")
	}
}

func TestFmtFormatsMessage(t *testing.T) {
	err := Fmt(KindRollback, nil, "no previous deployment for %s", "repo")
	if err.Message != "no previous deployment for repo" {
		t.Errorf("Message = %q", err.Message)
	}
}
