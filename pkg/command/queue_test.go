package command

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(DefaultCapacity)
	ctx := context.Background()
	seq := []Command{TurnLeft, Forward, TurnLeft, Reverse, TurnRight, TurnLeft}

	var ids []string
	for _, c := range seq {
		env, err := q.Submit(ctx, c)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, env.ID)
	}

	for i, want := range seq {
		env, err := q.Receive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if env.Command != want || env.ID != ids[i] {
			t.Errorf("item %d: got %v/%s, want %v/%s", i, env.Command, env.ID, want, ids[i])
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue should be drained, Len = %d", q.Len())
	}
}

func TestQueue_BlocksProducerWhenFull(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()
	q.Submit(ctx, Forward)
	q.Submit(ctx, Reverse)

	sent := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, TurnLeft)
		sent <- err
	}()

	select {
	case <-sent:
		t.Fatal("send on a full queue must block")
	case <-time.After(20 * time.Millisecond):
	}
	if q.Len() > q.Cap() {
		t.Fatalf("queue exceeded capacity: %d > %d", q.Len(), q.Cap())
	}

	first, _ := q.Receive(ctx)
	if first.Command != Forward {
		t.Errorf("first = %v, want forward", first.Command)
	}

	select {
	case err := <-sent:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released")
	}

	for _, want := range []Command{Reverse, TurnLeft} {
		env, _ := q.Receive(ctx)
		if env.Command != want {
			t.Errorf("got %v, want %v: blocked command lost or reordered", env.Command, want)
		}
	}
}

func TestQueue_SendCancelled(t *testing.T) {
	q := NewQueue(1)
	q.Submit(context.Background(), Forward)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Submit(ctx, Reverse); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("cancelled send must not enqueue, Len = %d", q.Len())
	}
}

func TestQueue_ReceiveBlocksUntilCancelled(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestQueue_RejectsNone(t *testing.T) {
	q := NewQueue(1)
	if err := q.Send(context.Background(), Envelope{}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestQueue_NoDedup(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		q.Submit(ctx, TurnLeft)
	}
	if q.Len() != 3 {
		t.Errorf("repeated commands must each be queued, Len = %d", q.Len())
	}
}

func TestNewQueue_MinimumCapacity(t *testing.T) {
	if NewQueue(0).Cap() != 1 {
		t.Error("capacity should be clamped to 1")
	}
}
