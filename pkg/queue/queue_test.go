package queue

import (
	"context"
	"testing"
	"time"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/errors"
)

func push(t *testing.T, q *Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := model.NewEvent(map[string]interface{}{"seq": i})
		if err := q.Push(context.Background(), e); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
}

func TestReadBatchDrainsUpToMax(t *testing.T) {
	q := New(16)
	push(t, q, 5)

	b, err := q.ReadBatch(context.Background(), 3)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if b.Size() != 3 {
		t.Errorf("batch size = %d; want 3", b.Size())
	}
	if q.Len() != 2 {
		t.Errorf("queue len = %d; want 2", q.Len())
	}
	if b.ID() == "" {
		t.Error("batch has no id")
	}
}

func TestReadBatchReturnsPartialBatch(t *testing.T) {
	q := New(16)
	push(t, q, 2)

	b, err := q.ReadBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if b.Size() != 2 {
		t.Errorf("batch size = %d; want 2", b.Size())
	}
}

func TestReadBatchBlocksUntilFirstEvent(t *testing.T) {
	q := New(16)

	done := make(chan *Batch, 1)
	go func() {
		b, err := q.ReadBatch(context.Background(), 4)
		if err != nil {
			t.Errorf("ReadBatch: %v", err)
		}
		done <- b
	}()

	select {
	case <-done:
		t.Fatal("ReadBatch returned with no events queued")
	case <-time.After(20 * time.Millisecond):
	}

	push(t, q, 1)
	select {
	case b := <-done:
		if b.Size() != 1 {
			t.Errorf("batch size = %d; want 1", b.Size())
		}
	case <-time.After(time.Second):
		t.Fatal("ReadBatch never woke up")
	}
}

func TestInFlightTracksUnclosedBatches(t *testing.T) {
	q := New(16)
	push(t, q, 4)

	b, err := q.ReadBatch(context.Background(), 4)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if got := q.InFlight(); got != 4 {
		t.Errorf("InFlight = %d before ack; want 4", got)
	}

	b.Close()
	if got := q.InFlight(); got != 0 {
		t.Errorf("InFlight = %d after ack; want 0", got)
	}

	// Double close must not go negative.
	b.Close()
	if got := q.InFlight(); got != 0 {
		t.Errorf("InFlight = %d after double ack; want 0", got)
	}
}

func TestCloseDrainsThenSignalsEnd(t *testing.T) {
	q := New(16)
	push(t, q, 2)
	q.Close()

	if err := q.Push(context.Background(), model.NewEvent(nil)); !errors.IsCode(err, errors.CodeQueueClosed) {
		t.Errorf("Push after close: %v; want queue closed", err)
	}

	b, err := q.ReadBatch(context.Background(), 8)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if b.Size() != 2 {
		t.Errorf("batch size = %d; want 2", b.Size())
	}
	b.Close()

	end, err := q.ReadBatch(context.Background(), 8)
	if err != nil {
		t.Fatalf("ReadBatch after drain: %v", err)
	}
	if end != nil {
		t.Errorf("drained queue returned a batch of %d events", end.Size())
	}
}

func TestReadBatchHonorsContext(t *testing.T) {
	q := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.ReadBatch(ctx, 1); err != context.Canceled {
		t.Errorf("ReadBatch error = %v; want context.Canceled", err)
	}
}
