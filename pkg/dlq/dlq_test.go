package dlq

import (
	"testing"
	"time"
)

func TestMatches_FiltersByTaskIDAndStage(t *testing.T) {
	entry := Entry{TaskID: "ch-1", Stage: "fact_check", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	if !matches(entry, Filters{}) {
		t.Errorf("expected empty filters to match everything")
	}
	if !matches(entry, Filters{TaskID: "ch-1"}) {
		t.Errorf("expected matching task id to pass")
	}
	if matches(entry, Filters{TaskID: "ch-2"}) {
		t.Errorf("expected mismatched task id to fail")
	}
	if !matches(entry, Filters{Stage: "fact_check"}) {
		t.Errorf("expected matching stage to pass")
	}
	if matches(entry, Filters{Stage: "qa_scoring"}) {
		t.Errorf("expected mismatched stage to fail")
	}
}

func TestMatches_FiltersByTimeRange(t *testing.T) {
	entry := Entry{CreatedAt: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)}

	if !matches(entry, Filters{Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}) {
		t.Errorf("expected entry after Since to match")
	}
	if matches(entry, Filters{Since: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)}) {
		t.Errorf("expected entry before Since to fail")
	}
	if matches(entry, Filters{Until: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}) {
		t.Errorf("expected entry after Until to fail")
	}
}
