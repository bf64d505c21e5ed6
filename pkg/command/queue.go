package command

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the queue depth of the reference vehicle.
const DefaultCapacity = 10

// Envelope is a queued command with its trace metadata.
type Envelope struct {
	ID       string
	Command  Command
	Enqueued time.Time
}

// NewEnvelope wraps cmd with a fresh trace id.
func NewEnvelope(cmd Command) Envelope {
	return Envelope{ID: uuid.NewString(), Command: cmd}
}

// Queue is a bounded FIFO between the network-facing producer and the
// motor-facing consumer. Send blocks while full; Receive blocks while empty.
// Commands are never coalesced, reordered or dropped.
type Queue struct {
	ch chan Envelope
}

// NewQueue returns a queue holding at most capacity commands.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Envelope, capacity)}
}

// Send enqueues env, waiting for space until ctx is done.
func (q *Queue) Send(ctx context.Context, env Envelope) error {
	if !env.Command.Valid() {
		return ErrInvalidCommand
	}
	if env.Enqueued.IsZero() {
		env.Enqueued = time.Now()
	}
	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit wraps cmd in a new envelope and sends it.
func (q *Queue) Submit(ctx context.Context, cmd Command) (Envelope, error) {
	env := NewEnvelope(cmd)
	env.Enqueued = time.Now()
	return env, q.Send(ctx, env)
}

// Receive dequeues the oldest command, waiting until one arrives or ctx is
// done.
func (q *Queue) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-q.ch:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
