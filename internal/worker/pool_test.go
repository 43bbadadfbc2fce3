package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
	"issuemind.app/triage/internal/worker"
)

var _ = Describe("Pool", func() {
	var (
		ctx context.Context
		q   *queue.MemoryQueue
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = queue.NewMemoryQueue(64, 10*time.Millisecond, 0)
		DeferCleanup(q.Close)
	})

	start := func(p *worker.Pool) {
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()
		DeferCleanup(func() {
			p.Stop()
			Expect(<-done).To(Succeed())
		})
	}

	enqueue := func(n int) {
		for i := 1; i <= n; i++ {
			Expect(q.Enqueue(ctx, queue.TaskMessage{Kind: model.TaskKindSummary, TaskID: int64(i), IssueID: 1, RepositoryID: 1})).To(Succeed())
		}
	}

	It("never runs more messages at once than its concurrency", func() {
		var (
			inFlight, peak atomic.Int32
			mu             sync.Mutex
			seen           []int64
		)
		processor := &mockProcessor{processFn: func(_ context.Context, msg queue.Message) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)

			mu.Lock()
			seen = append(seen, msg.TaskID)
			mu.Unlock()
			return nil
		}}

		enqueue(12)
		start(worker.NewPool(q, processor, worker.Config{Concurrency: 3}))

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(seen)
		}).Should(Equal(12))
		Expect(peak.Load()).To(BeNumerically("<=", 3))
		Expect(peak.Load()).To(BeNumerically(">", 1))
	})

	It("requeues failed messages and dead letters them after the last attempt", func() {
		var attempts []int
		var mu sync.Mutex
		processor := &mockProcessor{processFn: func(_ context.Context, msg queue.Message) error {
			mu.Lock()
			attempts = append(attempts, msg.Attempt)
			mu.Unlock()
			return errors.New("database is locked")
		}}

		enqueue(1)
		start(worker.NewPool(q, processor, worker.Config{Concurrency: 1, QueueMaxAttempts: 3}))

		Eventually(q.DeadLetters).Should(HaveLen(1))
		mu.Lock()
		defer mu.Unlock()
		Expect(attempts).To(Equal([]int{1, 2, 3}))
		Expect(q.DeadLetters()[0].Error).To(Equal("database is locked"))
	})

	It("survives a panicking processor", func() {
		var calls atomic.Int32
		processor := &mockProcessor{processFn: func(_ context.Context, msg queue.Message) error {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return nil
		}}

		enqueue(1)
		start(worker.NewPool(q, processor, worker.Config{Concurrency: 1, QueueMaxAttempts: 3}))

		Eventually(calls.Load).Should(Equal(int32(2)))
		Consistently(q.DeadLetters).Should(BeEmpty())
	})
})
