package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrEvaluation, "evaluation failed").
		WithCause(root).
		WithHTTPStatus(400).
		WithModel("iris")

	if GetErrorCode(err) != ErrEvaluation {
		t.Fatalf("expected code %s, got %s", ErrEvaluation, GetErrorCode(err))
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if err.Model != "iris" {
		t.Fatalf("expected model iris, got %q", err.Model)
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_CodeSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("deploy: %w", NewError(ErrAlreadyDeployed, "model exists"))
	if !IsErrorCode(err, ErrAlreadyDeployed) {
		t.Fatalf("expected wrapped code to be visible")
	}
	if IsErrorCode(nil, ErrAlreadyDeployed) {
		t.Fatalf("nil error must not match")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain error must have empty code")
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	if WrapError(nil, ErrInternalError, "x") != nil {
		t.Fatalf("nil in, nil out")
	}

	typed := NewError(ErrNotDeployed, "gone")
	if got := WrapError(typed, ErrInternalError, "x"); got != typed {
		t.Fatalf("typed error must pass through unchanged")
	}

	plain := errors.New("boom")
	got := WrapError(plain, ErrInternalError, "wrapped")
	if got.Code != ErrInternalError || !errors.Is(got, plain) {
		t.Fatalf("unexpected wrap result: %v", got)
	}
}
