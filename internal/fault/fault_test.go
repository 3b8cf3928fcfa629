package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsSentinel(t *testing.T) {
	tests := []struct {
		kind Kind
		want error
	}{
		{KindInvalidArgument, ErrInvalidArgument},
		{KindNotFound, ErrNotFound},
		{KindPreconditionFailed, ErrPreconditionFailed},
		{KindCallbackFault, ErrCallbackFault},
		{KindAllocationFailure, ErrAllocationFailure},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := New(tt.kind, "op", "bad %d", 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.want)
			}
			wrapped := fmt.Errorf("outer: %w", err)
			if KindOf(wrapped) != tt.kind {
				t.Errorf("KindOf() = %v, want %v", KindOf(wrapped), tt.kind)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindInvalidArgument, "setidentity", "identity %d out of range", 9)
	if got, want := err.Error(), "setidentity: identity 9 out of range"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	inner := errors.New("boom")
	werr := Wrap(KindCallbackFault, "fire", inner)
	if !errors.Is(werr, inner) {
		t.Error("Wrap() lost the inner error")
	}
	if !errors.Is(werr, ErrCallbackFault) {
		t.Error("Wrap() lost the kind")
	}
	if werr.Error() != "fire: boom" {
		t.Errorf("Error() = %q", werr.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindNotFound, "op", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestRaised(t *testing.T) {
	if KindNotFound.Raised() {
		t.Error("NotFound must never be raised")
	}
	if KindCallbackFault.Raised() {
		t.Error("CallbackFault must be isolated")
	}
	if !KindInvalidArgument.Raised() || !KindPreconditionFailed.Raised() {
		t.Error("InvalidArgument and PreconditionFailed must be raised")
	}
}

func TestKindOfSentinel(t *testing.T) {
	err := fmt.Errorf("ctx: %w", ErrPreconditionFailed)
	if KindOf(err) != KindPreconditionFailed {
		t.Errorf("KindOf() = %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("plain error should have no kind")
	}
}
