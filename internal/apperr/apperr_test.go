package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Upstream("prompt_rejected", false, errors.New("status 422"))
	wrapped := fmt.Errorf("dispatch job: %w", base)

	if !IsKind(wrapped, KindUpstream) {
		t.Fatal("expected wrapped error to keep its kind")
	}
	if IsRetryable(wrapped) {
		t.Error("rejected prompts must not be retryable")
	}
	if CodeOf(wrapped) != "prompt_rejected" {
		t.Errorf("unexpected code %q", CodeOf(wrapped))
	}
	if !errors.Is(wrapped, &Error{Kind: KindUpstream}) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(wrapped, &Error{Kind: KindUpstream, Code: "other"}) {
		t.Error("errors.Is should respect a non-empty code")
	}
}

func TestForeignErrorsAreRetryable(t *testing.T) {
	if !IsRetryable(errors.New("connection reset")) {
		t.Error("unknown errors should default to retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Download("clip body was empty", nil)
	if err.Error() != "clip body was empty" {
		t.Errorf("unexpected message %q", err.Error())
	}
	err = Composition(errors.New("xfade failed"))
	if err.Error() != "composition failed: xfade failed" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
