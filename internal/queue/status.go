package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"issuemind.app/triage/internal/model"
)

// StatusPublisher broadcasts task transitions. Publishing is best effort.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event model.TaskStatusEvent) error
}

// StatusSubscriber streams transitions of one repository until ctx is done.
type StatusSubscriber interface {
	Subscribe(ctx context.Context, repositoryID int64) (<-chan model.TaskStatusEvent, error)
}

type RedisStatusStream struct {
	client *redis.Client
	maxLen int64
	block  time.Duration
}

func NewRedisStatusStream(client *redis.Client, maxLen int64) *RedisStatusStream {
	return &RedisStatusStream{client: client, maxLen: maxLen, block: 5 * time.Second}
}

func (s *RedisStatusStream) PublishStatus(ctx context.Context, event model.TaskStatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: StatusStreamName(event.RepositoryID),
		Values: map[string]any{"event": string(payload)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Subscribe reads only events published after the call.
func (s *RedisStatusStream) Subscribe(ctx context.Context, repositoryID int64) (<-chan model.TaskStatusEvent, error) {
	stream := StatusStreamName(repositoryID)
	out := make(chan model.TaskStatusEvent, 16)

	go func() {
		defer close(out)
		lastID := "$"
		for ctx.Err() == nil {
			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   50,
				Block:   s.block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "status stream read failed", "error", err, "stream", stream)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, st := range streams {
				for _, msg := range st.Messages {
					lastID = msg.ID
					event, err := decodeStatusEvent(msg)
					if err != nil {
						slog.WarnContext(ctx, "skipping malformed status event", "error", err, "message_id", msg.ID)
						continue
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func decodeStatusEvent(msg redis.XMessage) (model.TaskStatusEvent, error) {
	var event model.TaskStatusEvent
	raw, ok := msg.Values["event"]
	if !ok {
		return event, fmt.Errorf("missing event")
	}
	if err := json.Unmarshal([]byte(fmt.Sprint(raw)), &event); err != nil {
		return event, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

// MemoryStatusStream fans events out to in-process subscribers. Slow
// subscribers drop events rather than block the publisher.
type MemoryStatusStream struct {
	mu   sync.Mutex
	subs map[int64]map[chan model.TaskStatusEvent]struct{}
}

func NewMemoryStatusStream() *MemoryStatusStream {
	return &MemoryStatusStream{subs: make(map[int64]map[chan model.TaskStatusEvent]struct{})}
}

func (s *MemoryStatusStream) PublishStatus(ctx context.Context, event model.TaskStatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[event.RepositoryID] {
		select {
		case ch <- event:
		default:
			slog.DebugContext(ctx, "dropping status event for slow subscriber", "task_id", event.TaskID)
		}
	}
	return nil
}

func (s *MemoryStatusStream) Subscribe(ctx context.Context, repositoryID int64) (<-chan model.TaskStatusEvent, error) {
	ch := make(chan model.TaskStatusEvent, 64)

	s.mu.Lock()
	if s.subs[repositoryID] == nil {
		s.subs[repositoryID] = make(map[chan model.TaskStatusEvent]struct{})
	}
	s.subs[repositoryID][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[repositoryID], ch)
		if len(s.subs[repositoryID]) == 0 {
			delete(s.subs, repositoryID)
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
