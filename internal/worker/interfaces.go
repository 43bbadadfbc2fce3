package worker

import (
	"context"

	"issuemind.app/triage/internal/queue"
)

// TaskProcessor handles one delivered task message. A nil error means the
// message is done and can be acked, even when the task itself failed.
type TaskProcessor interface {
	Process(ctx context.Context, msg queue.Message) error
}
