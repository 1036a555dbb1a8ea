package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/dlq"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	if backoff(1) != BackoffBase {
		t.Errorf("expected attempt 1 to be base delay")
	}
	if backoff(2) != BackoffBase*BackoffFactor {
		t.Errorf("expected attempt 2 to double")
	}
	if got := backoff(10); got != BackoffCap {
		t.Errorf("expected backoff to cap at %v, got %v", BackoffCap, got)
	}
}

type fakeQueue struct {
	added []dlq.Entry
}

func (f *fakeQueue) Add(ctx context.Context, entry dlq.Entry) error {
	f.added = append(f.added, entry)
	return nil
}
func (f *fakeQueue) Get(ctx context.Context, id string) (*dlq.Entry, bool, error) { return nil, false, nil }
func (f *fakeQueue) List(ctx context.Context, filters dlq.Filters) ([]dlq.Entry, error) {
	return f.added, nil
}
func (f *fakeQueue) Retry(ctx context.Context, id string, retryFn func(ctx context.Context, entry dlq.Entry) error) error {
	return nil
}
func (f *fakeQueue) Remove(ctx context.Context, id string) error { return nil }
func (f *fakeQueue) Statistics(ctx context.Context) (dlq.Statistics, error) {
	return dlq.Statistics{}, nil
}
func (f *fakeQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func TestConsumer_DeadLetter_RecordsEntry(t *testing.T) {
	q := &fakeQueue{}
	c := NewConsumer(nil, nil, WorkloadDefault, nil, q, nil)

	c.deadLetter(context.Background(), Task{ID: "t1", Stage: "research_internal"}, errors.New("boom"), 3)

	if len(q.added) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(q.added))
	}
	if q.added[0].TaskID != "t1" || q.added[0].Attempts != 3 {
		t.Errorf("unexpected entry: %+v", q.added[0])
	}
}

func TestConsumer_DeadLetter_NoopWithoutQueue(t *testing.T) {
	c := NewConsumer(nil, nil, WorkloadImages, nil, nil, nil)
	c.deadLetter(context.Background(), Task{ID: "t2"}, errors.New("boom"), 1)
}

func TestRetryableDispatch(t *testing.T) {
	transient := chaptererr.New(chaptererr.ProviderTransient, "rate limited")
	if !chaptererr.Retryable(transient) {
		t.Errorf("expected ProviderTransient to be retryable")
	}
	auth := chaptererr.New(chaptererr.ProviderAuth, "bad key")
	if chaptererr.Retryable(auth) {
		t.Errorf("expected ProviderAuth to not be retryable")
	}
}
