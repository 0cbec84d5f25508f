package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetKind_SeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("stage: %w", Conflict("already transcribed"))
	if !Is(err, KindConflict) {
		t.Fatalf("expected conflict kind, got %v", GetKind(err))
	}
	if Is(nil, KindConflict) {
		t.Fatalf("nil must not match any kind")
	}
	if GetKind(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected unknown kind for untyped error")
	}
}

func TestProvider_KeepsCause(t *testing.T) {
	err := Provider("whisper", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause to be preserved")
	}
	if err.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", err.HTTPStatus())
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Validation("x"), http.StatusBadRequest},
		{Precondition("x"), http.StatusUnprocessableEntity},
		{Conflict("x"), http.StatusConflict},
		{Internal("x", nil), http.StatusInternalServerError},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestError_MessageIncludesOp(t *testing.T) {
	err := NotFound("call not found").WithOp("calls.Get")
	if err.Error() != "calls.Get: call not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
