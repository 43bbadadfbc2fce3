package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DeadLetter is a message the memory queue gave up on.
type DeadLetter struct {
	Message Message
	Error   string
}

// MemoryQueue is an in-process FIFO implementing both Producer and Consumer.
// It is used by single-binary deployments and tests; nothing survives a
// restart, pending tasks are republished from the database on startup.
type MemoryQueue struct {
	ch           chan Message
	block        time.Duration
	requeueDelay time.Duration
	seq          atomic.Int64

	mu     sync.Mutex
	dlq    []DeadLetter
	closed bool
}

func NewMemoryQueue(capacity int, block, requeueDelay time.Duration) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	if block <= 0 {
		block = time.Second
	}
	return &MemoryQueue{
		ch:           make(chan Message, capacity),
		block:        block,
		requeueDelay: requeueDelay,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg TaskMessage) error {
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	return q.push(ctx, msg)
}

func (q *MemoryQueue) push(ctx context.Context, msg TaskMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	m := Message{TaskMessage: msg, ID: strconv.FormatInt(q.seq.Add(1), 10)}
	select {
	case q.ch <- m:
	default:
		return fmt.Errorf("enqueue task %d: %w", msg.TaskID, ErrQueueFull)
	}

	slog.DebugContext(ctx, "enqueued task in memory",
		"task_id", msg.TaskID,
		"kind", msg.Kind,
		"attempt", msg.Attempt)
	return nil
}

// Read returns at most one message, waiting up to the block duration.
func (q *MemoryQueue) Read(ctx context.Context) ([]Message, error) {
	timer := time.NewTimer(q.block)
	defer timer.Stop()

	select {
	case m, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return []Message{m}, nil
	case <-timer.C:
		return []Message{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op: a read message is already removed from the channel.
func (q *MemoryQueue) Ack(context.Context, Message) error {
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, msg Message, errMsg string) error {
	next := msg.TaskMessage
	next.Attempt = msg.Attempt + 1

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", next.Attempt,
		"reason", errMsg)

	if q.requeueDelay <= 0 {
		return q.push(ctx, next)
	}
	time.AfterFunc(q.requeueDelay, func() {
		if err := q.push(context.WithoutCancel(ctx), next); err != nil {
			slog.ErrorContext(ctx, "delayed requeue failed", "error", err, "task_id", next.TaskID)
		}
	})
	return nil
}

func (q *MemoryQueue) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	q.mu.Lock()
	q.dlq = append(q.dlq, DeadLetter{Message: msg, Error: errMsg})
	q.mu.Unlock()

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"task_id", msg.TaskID)
	return nil
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dlq...)
}

// Len is the number of messages waiting to be read.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting messages. Readers drain what is buffered and then
// get ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
