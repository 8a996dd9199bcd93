package timeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_RecordDoesNotWaitForSink(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan string, 4)
	slow := sinkFunc(func(ctx context.Context, r Record) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		delivered <- r.Command
		return nil
	})
	q := NewQueue(slow, 4, time.Minute, nil)

	start := time.Now()
	for _, cmd := range []string{"a", "b"} {
		if err := q.Record(context.Background(), sampleRecord(cmd, "")); err != nil {
			t.Fatal(err)
		}
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("Record blocked for %v", d)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if a, b := <-delivered, <-delivered; a != "a" || b != "b" {
		t.Fatalf("delivered %q then %q", a, b)
	}
	if err := q.Record(context.Background(), sampleRecord("c", "")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	stuck := sinkFunc(func(ctx context.Context, _ Record) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})
	q := NewQueue(stuck, 1, 0, nil)
	defer func() {
		close(block)
		_ = q.Close(context.Background())
	}()

	if err := q.Record(context.Background(), sampleRecord("first", "")); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := q.Record(context.Background(), sampleRecord("second", "")); err != nil {
		t.Fatal(err)
	}
	if err := q.Record(context.Background(), sampleRecord("third", "")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v depth=%d", err, q.Depth())
	}
}

func TestQueue_DeliveryTimesOut(t *testing.T) {
	errs := make(chan error, 1)
	hang := sinkFunc(func(ctx context.Context, _ Record) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	})
	q := NewQueue(hang, 1, 20*time.Millisecond, nil)
	if err := q.Record(context.Background(), sampleRecord("x", "")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never timed out")
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
