package circuitbreaker

import (
	"context"
	"testing"
)

func TestRegistry_TripsAfterFailureThreshold(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 3}, nil)

	for i := 0; i < 3; i++ {
		allowed, done, err := reg.IsCallAllowed(context.Background(), "anthropic")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should have been allowed", i)
		}
		RecordFailure(done)
	}

	stats := reg.GetStats(context.Background(), "anthropic")
	if stats.State != StateOpen {
		t.Fatalf("expected breaker to be open after %d consecutive failures, got %s", stats.ConsecutiveFailures, stats.State)
	}

	allowed, _, _ := reg.IsCallAllowed(context.Background(), "anthropic")
	if allowed {
		t.Fatalf("expected call to be denied while breaker is open")
	}
}

func TestRegistry_StaysClosedOnSuccess(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 2}, nil)

	for i := 0; i < 5; i++ {
		allowed, done, _ := reg.IsCallAllowed(context.Background(), "bedrock")
		if !allowed {
			t.Fatalf("call %d should have been allowed", i)
		}
		RecordSuccess(done)
	}

	stats := reg.GetStats(context.Background(), "bedrock")
	if stats.State != StateClosed {
		t.Fatalf("expected breaker to remain closed on repeated success, got %s", stats.State)
	}
}

func TestRegistry_IndependentPerProvider(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1}, nil)

	allowed, done, _ := reg.IsCallAllowed(context.Background(), "anthropic")
	if !allowed {
		t.Fatalf("expected first call allowed")
	}
	RecordFailure(done)

	if reg.GetStats(context.Background(), "anthropic").State != StateOpen {
		t.Fatalf("expected anthropic breaker open")
	}
	if reg.GetStats(context.Background(), "bedrock").State != StateClosed {
		t.Fatalf("expected bedrock breaker to be unaffected")
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if cfg.FailureThreshold != 5 || cfg.HalfOpenSuccessThresh != 2 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
