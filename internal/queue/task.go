package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"issuemind.app/triage/internal/model"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// TaskMessage is what a producer publishes for one AI task. The task row is
// the source of truth; the message only says "look at this task".
type TaskMessage struct {
	Kind         model.TaskKind
	TraceID      string
	TaskID       int64
	IssueID      int64
	RepositoryID int64
	Attempt      int
}

// Message is a delivered TaskMessage. Attempt counts queue-level deliveries.
type Message struct {
	TaskMessage
	ID  string
	Raw redis.XMessage
}

type Producer interface {
	Enqueue(ctx context.Context, msg TaskMessage) error
	Close() error
}

type Consumer interface {
	Read(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Requeue(ctx context.Context, msg Message, errMsg string) error
	SendDLQ(ctx context.Context, msg Message, errMsg string) error
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

// StatusStreamName is the per-repository stream task transitions are published to.
func StatusStreamName(repositoryID int64) string {
	return fmt.Sprintf("task-status:repo-%d", repositoryID)
}
