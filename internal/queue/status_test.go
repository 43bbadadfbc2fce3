package queue_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
)

var _ = Describe("MemoryStatusStream", func() {
	It("delivers events only to subscribers of the same repository", func() {
		stream := queue.NewMemoryStatusStream()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		repo1, err := stream.Subscribe(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		repo2, err := stream.Subscribe(ctx, 2)
		Expect(err).NotTo(HaveOccurred())

		event := model.TaskStatusEvent{At: time.Unix(5, 0), Status: model.TaskStatusRunning, TaskID: 10, RepositoryID: 1}
		Expect(stream.PublishStatus(ctx, event)).To(Succeed())

		Eventually(repo1).Should(Receive(Equal(event)))
		Consistently(repo2, 50*time.Millisecond).ShouldNot(Receive())
	})

	It("closes the channel when the subscriber goes away", func() {
		stream := queue.NewMemoryStatusStream()
		ctx, cancel := context.WithCancel(context.Background())

		ch, err := stream.Subscribe(ctx, 3)
		Expect(err).NotTo(HaveOccurred())
		cancel()

		Eventually(ch).Should(BeClosed())
		Expect(stream.PublishStatus(context.Background(), model.TaskStatusEvent{RepositoryID: 3})).To(Succeed())
	})
})

var _ = Describe("RedisStatusStream", func() {
	It("stops a subscription promptly while Redis is unreachable", func() {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
		DeferCleanup(client.Close)
		stream := queue.NewRedisStatusStream(client, 100)

		ctx, cancel := context.WithCancel(context.Background())
		events, err := stream.Subscribe(ctx, 1)
		Expect(err).NotTo(HaveOccurred())

		time.Sleep(100 * time.Millisecond)
		cancel()

		Eventually(events).WithTimeout(500 * time.Millisecond).Should(BeClosed())
	})
})
