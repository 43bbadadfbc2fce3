package queue_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/queue"
)

var _ = Describe("MemoryQueue", func() {
	var (
		q   *queue.MemoryQueue
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = queue.NewMemoryQueue(2, 20*time.Millisecond, 0)
	})

	readOne := func() queue.Message {
		msgs, err := q.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		return msgs[0]
	}

	It("delivers in FIFO order with a first attempt", func() {
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 1, Kind: model.TaskKindSummary})).To(Succeed())
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 2, Kind: model.TaskKindFix})).To(Succeed())

		first := readOne()
		Expect(first.TaskID).To(Equal(int64(1)))
		Expect(first.Attempt).To(Equal(1))
		Expect(first.ID).NotTo(BeEmpty())
		Expect(readOne().TaskID).To(Equal(int64(2)))
	})

	It("returns an empty batch when nothing arrives in time", func() {
		msgs, err := q.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(BeEmpty())
	})

	It("rejects messages beyond capacity", func() {
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 1})).To(Succeed())
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 2})).To(Succeed())
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 3})).To(MatchError(queue.ErrQueueFull))
		Expect(q.Len()).To(Equal(2))
	})

	It("requeues with an incremented attempt", func() {
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 7})).To(Succeed())
		msg := readOne()

		Expect(q.Requeue(ctx, msg, "store unavailable")).To(Succeed())
		again := readOne()
		Expect(again.TaskID).To(Equal(int64(7)))
		Expect(again.Attempt).To(Equal(2))
		Expect(again.ID).NotTo(Equal(msg.ID))
	})

	It("requeues after the configured delay", func() {
		q = queue.NewMemoryQueue(4, 20*time.Millisecond, 30*time.Millisecond)
		Expect(q.Requeue(ctx, queue.Message{TaskMessage: queue.TaskMessage{TaskID: 9, Attempt: 1}}, "")).To(Succeed())
		Expect(q.Len()).To(Equal(0))
		Eventually(q.Len).Should(Equal(1))
	})

	It("keeps dead letters with their error", func() {
		msg := queue.Message{TaskMessage: queue.TaskMessage{TaskID: 5, Attempt: 3}, ID: "x"}
		Expect(q.SendDLQ(ctx, msg, "boom")).To(Succeed())
		Expect(q.DeadLetters()).To(Equal([]queue.DeadLetter{{Message: msg, Error: "boom"}}))
	})

	It("stops accepting after close and drains the buffer", func() {
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 1})).To(Succeed())
		Expect(q.Close()).To(Succeed())
		Expect(q.Enqueue(ctx, queue.TaskMessage{TaskID: 2})).To(MatchError(queue.ErrQueueClosed))

		Expect(readOne().TaskID).To(Equal(int64(1)))
		_, err := q.Read(ctx)
		Expect(err).To(MatchError(queue.ErrQueueClosed))
	})

	It("honours context cancellation while blocked", func() {
		q = queue.NewMemoryQueue(1, time.Minute, 0)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := q.Read(cctx)
		Expect(err).To(MatchError(context.Canceled))
	})
})
