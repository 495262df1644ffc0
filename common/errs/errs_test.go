package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := New(KindRateLimited, "too many calls")
	wrapped := fmt.Errorf("adapter slack: %w", base)

	if got := KindOf(wrapped); got != KindRateLimited {
		t.Errorf("expected KindRateLimited, got %s", got)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("expected KindInternal, got %s", got)
	}
}

func TestWithNode_PreservesKind(t *testing.T) {
	err := WithNode(New(KindUpstreamTransient, "502 from upstream"), "http_1", 2)

	if err.Kind != KindUpstreamTransient {
		t.Errorf("expected kind preserved, got %s", err.Kind)
	}
	if err.NodeID != "http_1" || err.Attempt != 2 {
		t.Errorf("node annotation lost: %+v", err)
	}
}

func TestRetriable(t *testing.T) {
	if !Retriable(KindUpstreamTransient) || !Retriable(KindRateLimited) {
		t.Error("transient kinds must be retriable")
	}
	if Retriable(KindUpstreamPermanent) || Retriable(KindCredentialInvalid) {
		t.Error("permanent kinds must not be retriable")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidWorkflow: http.StatusBadRequest,
		KindUnauthorized:    http.StatusUnauthorized,
		KindNotFound:        http.StatusNotFound,
		KindRateLimited:     http.StatusTooManyRequests,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}
