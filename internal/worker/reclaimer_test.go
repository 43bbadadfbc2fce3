package worker_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/worker"
)

// Runs only when TEST_REDIS_URL points at a disposable Redis.
var _ = Describe("Reclaimer", func() {
	It("reprocesses messages another consumer read but never acked", func(ctx SpecContext) {
		url := os.Getenv("TEST_REDIS_URL")
		if url == "" {
			Skip("TEST_REDIS_URL not set")
		}
		opts, err := redis.ParseURL(url)
		Expect(err).NotTo(HaveOccurred())
		client := redis.NewClient(opts)

		suffix := time.Now().UnixNano()
		cfg := queue.ConsumerConfig{
			Stream:    fmt.Sprintf("test_reclaim_%d", suffix),
			Group:     "test_workers",
			Consumer:  "crashed",
			DLQStream: fmt.Sprintf("test_reclaim_dlq_%d", suffix),
			Block:     100 * time.Millisecond,
		}
		DeferCleanup(func() {
			client.Del(context.Background(), cfg.Stream, cfg.DLQStream)
			_ = client.Close()
		})

		crashed, err := queue.NewRedisConsumer(ctx, client, cfg)
		Expect(err).NotTo(HaveOccurred())
		producer := queue.NewRedisProducer(client, cfg.Stream, nil)

		Expect(producer.Enqueue(ctx, queue.TaskMessage{Kind: model.TaskKindSummary, TaskID: 42, IssueID: 1, RepositoryID: 1})).To(Succeed())
		msgs, err := crashed.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))

		cfg.Consumer = "survivor"
		survivor, err := queue.NewRedisConsumer(ctx, client, cfg)
		Expect(err).NotTo(HaveOccurred())

		var (
			mu  sync.Mutex
			got []int64
		)
		reclaimer := worker.NewReclaimer(survivor, worker.ReclaimerConfig{
			MinIdle:  10 * time.Millisecond,
			Interval: 20 * time.Millisecond,
		}, func(ctx context.Context, msg queue.Message) error {
			mu.Lock()
			got = append(got, msg.TaskID)
			mu.Unlock()
			return survivor.Ack(ctx, msg)
		})
		go reclaimer.Run(context.Background())
		defer reclaimer.Stop()

		Eventually(func() []int64 {
			mu.Lock()
			defer mu.Unlock()
			return append([]int64(nil), got...)
		}).WithTimeout(2 * time.Second).Should(Equal([]int64{42}))
	}, SpecTimeout(5*time.Second))
})
