package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/internal/queue"
	"nixo.app/triage/internal/service"
)

var _ = Describe("MessageIngestService", func() {
	var (
		ctx      context.Context
		producer *mockProducer
		deduper  *mockDeduper
		svc      service.MessageIngestService
		params   service.MessageIngestParams
	)

	BeforeEach(func() {
		ctx = context.Background()
		producer = &mockProducer{}
		deduper = &mockDeduper{}
		svc = service.NewMessageIngestService(producer, deduper, service.MessageIngestConfig{
			DedupeTTL:          time.Hour,
			ContextOnlyUserIDs: []string{"USUPPORT"},
		}, nil)
		params = service.MessageIngestParams{
			ChannelID: "C1",
			TS:        "1700000000.000100",
			UserID:    "U1",
			Text:      "Export to CSV is broken, error 500",
		}
	})

	Describe("Ingest", func() {
		It("enqueues a new message with its thread defaulted to itself", func() {
			trace := "4bf92f3577b34da6a3ce929d0e0e4736"
			params.TraceID = &trace

			res, err := svc.Ingest(ctx, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Enqueued).To(BeTrue())
			Expect(res.Duplicated).To(BeFalse())
			Expect(res.StreamMessageID).To(Equal("1-0"))
			Expect(res.DedupeKey).To(HavePrefix("msg:"))

			Expect(producer.tasks).To(HaveLen(1))
			task := producer.tasks[0]
			Expect(task.Message.ThreadTS).To(Equal("1700000000.000100"))
			Expect(task.Message.ContextOnly).To(BeFalse())
			Expect(task.TraceID).To(Equal(trace))
			Expect(task.DedupeKey).To(Equal(res.DedupeKey))
			Expect(deduper.seen[res.DedupeKey]).To(Equal(time.Hour))
		})

		It("drops a redelivered message", func() {
			first, err := svc.Ingest(ctx, params)
			Expect(err).NotTo(HaveOccurred())

			again, err := svc.Ingest(ctx, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(again.Duplicated).To(BeTrue())
			Expect(again.Enqueued).To(BeFalse())
			Expect(again.DedupeKey).To(Equal(first.DedupeKey))
			Expect(producer.tasks).To(HaveLen(1))
		})

		It("keys on the source event id when present", func() {
			evt := "Ev123"
			params.SourceEventID = &evt

			res, err := svc.Ingest(ctx, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.DedupeKey).To(Equal("evt:Ev123"))
		})

		It("treats an edit of the text as a different message", func() {
			first, err := svc.Ingest(ctx, params)
			Expect(err).NotTo(HaveOccurred())

			params.Text = "Export to CSV is broken, error 502"
			second, err := svc.Ingest(ctx, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(second.DedupeKey).NotTo(Equal(first.DedupeKey))
			Expect(second.Enqueued).To(BeTrue())
		})

		It("marks configured authors as context-only", func() {
			params.UserID = "USUPPORT"

			res, err := svc.Ingest(ctx, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.ContextOnly).To(BeTrue())
			Expect(producer.tasks[0].Message.ContextOnly).To(BeTrue())
		})

		It("releases the dedupe key when enqueueing fails", func() {
			producer.enqueueFn = func(context.Context, queue.Task) (string, error) {
				return "", errors.New("redis down")
			}

			_, err := svc.Ingest(ctx, params)

			Expect(err).To(MatchError(ContainSubstring("enqueueing message")))
			Expect(deduper.released).To(HaveLen(1))

			producer.enqueueFn = nil
			res, err := svc.Ingest(ctx, params)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Enqueued).To(BeTrue())
		})

		It("fails when the dedupe store is unavailable", func() {
			deduper.claimFn = func(context.Context, string, time.Duration) (bool, error) {
				return false, errors.New("claiming dedupe key: timeout")
			}

			_, err := svc.Ingest(ctx, params)

			Expect(err).To(HaveOccurred())
			Expect(producer.tasks).To(BeEmpty())
		})

		DescribeTable("rejects incomplete messages",
			func(mutate func(p *service.MessageIngestParams)) {
				mutate(&params)
				_, err := svc.Ingest(ctx, params)
				Expect(err).To(MatchError(service.ErrInvalidMessage))
				Expect(producer.tasks).To(BeEmpty())
			},
			Entry("no channel", func(p *service.MessageIngestParams) { p.ChannelID = " " }),
			Entry("no ts", func(p *service.MessageIngestParams) { p.TS = "" }),
			Entry("no user", func(p *service.MessageIngestParams) { p.UserID = "" }),
			Entry("blank text", func(p *service.MessageIngestParams) { p.Text = "  \n" }),
		)
	})
})
