package queue_test

import (
	"context"
	"fmt"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
)

// Runs only when TEST_REDIS_URL points at a disposable Redis.
var _ = Describe("Redis streams", Ordered, func() {
	var (
		client   *redis.Client
		producer queue.Producer
		consumer *queue.RedisConsumer
		cfg      queue.ConsumerConfig
		ctx      context.Context
	)

	BeforeAll(func() {
		url := os.Getenv("TEST_REDIS_URL")
		if url == "" {
			Skip("TEST_REDIS_URL not set")
		}
		opts, err := redis.ParseURL(url)
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(opts)
		ctx = context.Background()

		suffix := time.Now().UnixNano()
		cfg = queue.ConsumerConfig{
			Stream:    fmt.Sprintf("test_tasks_%d", suffix),
			Group:     "test_workers",
			Consumer:  "test-consumer",
			DLQStream: fmt.Sprintf("test_tasks_dlq_%d", suffix),
			Block:     100 * time.Millisecond,
		}
		DeferCleanup(func() {
			client.Del(ctx, cfg.Stream, cfg.DLQStream)
			_ = client.Close()
		})

		consumer, err = queue.NewRedisConsumer(ctx, client, cfg)
		Expect(err).NotTo(HaveOccurred())
		producer = queue.NewRedisProducer(client, cfg.Stream, nil)
	})

	It("creating the group twice is harmless", func() {
		_, err := queue.NewRedisConsumer(ctx, client, cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips a task message", func() {
		Expect(producer.Enqueue(ctx, queue.TaskMessage{
			Kind: model.TaskKindSummary, TraceID: "t1", TaskID: 1, IssueID: 2, RepositoryID: 3,
		})).To(Succeed())

		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].TaskID).To(Equal(int64(1)))
		Expect(msgs[0].TraceID).To(Equal("t1"))
		Expect(msgs[0].Attempt).To(Equal(1))

		Expect(consumer.Requeue(ctx, msgs[0], "retry me")).To(Succeed())
		msgs, err = consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Attempt).To(Equal(2))

		Expect(consumer.SendDLQ(ctx, msgs[0], "gave up")).To(Succeed())
		Expect(client.XLen(ctx, cfg.DLQStream).Val()).To(Equal(int64(1)))
	})

	It("claims messages left unacked by a dead consumer", func() {
		Expect(producer.Enqueue(ctx, queue.TaskMessage{Kind: model.TaskKindFix, TaskID: 9, IssueID: 2, RepositoryID: 3})).To(Succeed())
		msgs, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))

		time.Sleep(20 * time.Millisecond)
		claimed, err := consumer.Claim(ctx, 10*time.Millisecond, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(HaveLen(1))
		Expect(claimed[0].ID).To(Equal(msgs[0].ID))
		Expect(consumer.Ack(ctx, msgs[0])).To(Succeed())
	})
})
