package chaptererr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ProviderTransient, "anthropic call failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestIs_MatchesKind(t *testing.T) {
	err := New(ProviderAuth, "invalid api key")
	if !Is(err, ProviderAuth) {
		t.Fatalf("expected Is(err, ProviderAuth) to be true")
	}
	if Is(err, ProviderTransient) {
		t.Fatalf("expected Is(err, ProviderTransient) to be false")
	}
	if Is(errors.New("plain error"), ProviderAuth) {
		t.Fatalf("expected Is on a non-chaptererr error to be false")
	}
}

func TestIs_FindsWrappedErrorAtDepth(t *testing.T) {
	inner := New(StoreError, "connection refused")
	outer := fmt.Errorf("saving chapter: %w", inner)

	if !Is(outer, StoreError) {
		t.Fatalf("expected Is to unwrap through fmt.Errorf")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{ProviderTransient, true},
		{ProviderAuth, false},
		{ProviderSchemaViolation, false},
		{InvalidInput, false},
		{Cancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "test")
			if got := Retryable(err); got != tt.want {
				t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
	if Retryable(errors.New("plain")) {
		t.Errorf("Retryable on a non-chaptererr error should be false")
	}
}

func TestKindOf_EmptyForNonChapterErr(t *testing.T) {
	if got := KindOf(errors.New("x")); got != "" {
		t.Errorf("KindOf(plain error) = %q, want empty", got)
	}
}
