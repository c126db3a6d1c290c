package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := New(CodeBadChallenge, "challenge mismatch")
	if !errors.Is(err, New(CodeBadChallenge, "other message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if errors.Is(err, New(CodeBadOrigin, "challenge mismatch")) {
		t.Fatal("expected errors with different codes to differ")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Wrap(CodeStorageBusy, "persist challenge", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause in the chain")
	}
	if err.Error() != "persist challenge" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	if got := GetCode(New(CodeCloneDetected, "counter went backward")); got != CodeCloneDetected {
		t.Fatalf("unexpected code: %q", got)
	}
	wrapped := fmt.Errorf("outer: %w", New(CodeTokenExpired, "token expired"))
	if got := GetCode(wrapped); got != CodeTokenExpired {
		t.Fatalf("unexpected code through chain: %q", got)
	}
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected unknown code, got %q", got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want int
	}{
		{CodeAuthRequired, http.StatusUnauthorized},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeTokenRevoked, http.StatusUnauthorized},
		{CodeBadChallenge, http.StatusBadRequest},
		{CodeCloneDetected, http.StatusBadRequest},
		{CodeCredentialUnknown, http.StatusNotFound},
		{CodePolicyDenied, http.StatusForbidden},
		{CodeConflict, http.StatusConflict},
		{CodeStorageBusy, http.StatusServiceUnavailable},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("code %s: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}
