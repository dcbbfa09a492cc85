package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeErrorIsThroughWrapping(t *testing.T) {
	err := ErrNotFound.WrapMsg("conversation", "id", "c1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatalf("NotFound must not match Forbidden")
	}
	wrapped := fmt.Errorf("load: %w", WrapMsg(err, "outer"))
	if Code(wrapped) != NotFoundError {
		t.Fatalf("code = %d, want %d", Code(wrapped), NotFoundError)
	}
}

func TestWrapMsgDetail(t *testing.T) {
	err := ErrForbidden.WrapMsg("not a participant", "user", "u1")
	ce, ok := AsCode(err)
	if !ok {
		t.Fatalf("expected CodeError in chain")
	}
	if ce.Detail != "not a participant, user=u1" {
		t.Fatalf("detail = %q", ce.Detail)
	}
	if ErrForbidden.Detail != "" {
		t.Fatalf("predefined error mutated: %q", ErrForbidden.Detail)
	}
}

func TestTransientKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient(cause, "messages.insert")
	if !errors.Is(err, ErrTransientIO) {
		t.Fatalf("expected TransientIO")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if Code(err) != TransientIOError {
		t.Fatalf("code = %d", Code(err))
	}
	if Transient(nil, "x") != nil {
		t.Fatalf("nil in, nil out")
	}
}

func TestCodeDefaultsToInternal(t *testing.T) {
	if Code(errors.New("boom")) != ServerInternalError {
		t.Fatalf("plain errors map to internal")
	}
}
