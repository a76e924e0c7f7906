package grouping_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/core/config"
	"nixo.app/triage/internal/grouping"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/normalize"
	"nixo.app/triage/internal/summary"
)

func incoming(channel, ts, text string) model.IncomingMessage {
	return model.IncomingMessage{ChannelID: channel, TS: ts, ThreadTS: ts, UserID: "U1", Text: text}
}

func classified(category model.Category, title string, signals ...string) model.Classification {
	return model.Classification{
		IsRelevant: category != model.CategoryIrrelevant,
		Category:   category,
		Confidence: 0.9,
		ShortTitle: title,
		Signals:    signals,
	}
}

func input(msg model.IncomingMessage, cls model.Classification) grouping.Input {
	return grouping.Input{Message: msg, Classification: cls, Normalized: normalize.Normalize(msg.Text)}
}

var _ = Describe("Grouper", func() {
	var (
		ctx        context.Context
		now        time.Time
		cfg        config.GroupingConfig
		mem        *memStore
		embedder   *mockEmbedder
		summarizer *mockSummarizer
		arbiter    *mockArbiter
		g          *grouping.Grouper
	)

	build := func() {
		g = grouping.New(grouping.Deps{
			Stores:     mem,
			Tx:         mem,
			Embedder:   embedder,
			Summarizer: summarizer,
			Arbiter:    arbiter,
			Now:        func() time.Time { return now },
		}, cfg)
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
		cfg = config.DefaultGrouping()
		cfg.EmbedSummaries = false
		mem = newMemStore()
		embedder = &mockEmbedder{}
		summarizer = &mockSummarizer{}
		arbiter = &mockArbiter{}
		build()
	})

	Describe("creating tickets", func() {
		It("creates a ticket when nothing matches", func() {
			msg := incoming("C1", "1000.1", "Export to CSV is broken, error 500")
			cls := classified(model.CategoryBugReport, "CSV export fails with 500", "csv", "export", "500")

			d, err := g.Group(ctx, input(msg, cls))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
			Expect(d.Step).To(Equal(grouping.StepCreated))

			t := mem.tickets[d.TicketID]
			Expect(t.Title).To(Equal("CSV export fails with 500"))
			Expect(t.Category).To(Equal(model.CategoryBugReport))
			Expect(t.Status).To(Equal(model.TicketStatusOpen))
			Expect(*t.CanonicalKey).To(Equal("500|csv|export"))
			Expect(t.Embedding).To(Equal([]float32{1, 0}))
			Expect(t.Summary.Description).To(Equal("new: CSV export fails with 500"))
			Expect(*t.ReporterID).To(Equal("U1"))

			msgs := mem.messagesOf(d.TicketID)
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Embedding).To(Equal([]float32{1, 0}))
			Expect(*msgs[0].CanonicalKey).To(Equal("500|csv|export"))
		})

		It("logs the intent behind a new ticket", func() {
			var buf bytes.Buffer
			previous := slog.Default()
			slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
			DeferCleanup(func() { slog.SetDefault(previous) })

			msg := incoming("C1", "1000.1", "make the button blue")
			_, err := g.Group(ctx, input(msg, classified(model.CategoryFeatureRequest, "Blue button")))

			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(ContainSubstring(`"msg":"ticket created"`))
			Expect(buf.String()).To(ContainSubstring(`"intent_key":"style_change|button|blue"`))
		})

		It("files irrelevant messages as support questions", func() {
			msg := incoming("C1", "1000.1", "where do I change my billing address")
			d, err := g.Group(ctx, input(msg, classified(model.CategoryIrrelevant, "Billing address")))

			Expect(err).NotTo(HaveOccurred())
			Expect(mem.tickets[d.TicketID].Category).To(Equal(model.CategorySupportQuestion))
		})

		It("stores a summary embedding when enabled", func() {
			cfg.EmbedSummaries = true
			build()

			d, err := g.Group(ctx, input(incoming("C1", "1.1", "dashboard charts are empty"), classified(model.CategoryBugReport, "Empty charts")))

			Expect(err).NotTo(HaveOccurred())
			Expect(mem.tickets[d.TicketID].SummaryEmbedding).NotTo(BeEmpty())
		})

		It("drops context-only messages that match nothing", func() {
			in := input(incoming("C1", "1.1", "we shipped a fix for the importer yesterday"), classified(model.CategoryIrrelevant, "Importer fix"))
			in.ContextOnly = true

			d, err := g.Group(ctx, in)

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Matched()).To(BeFalse())
			Expect(d.Step).To(Equal(grouping.StepDropped))
			Expect(mem.tickets).To(BeEmpty())
			Expect(mem.messages).To(BeEmpty())
		})

		It("honours the context-only flag on the message itself", func() {
			msg := incoming("C1", "1.1", "we shipped a fix for the importer yesterday")
			msg.ContextOnly = true

			d, err := g.Group(ctx, input(msg, classified(model.CategorySupportQuestion, "Importer fix")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Step).To(Equal(grouping.StepDropped))
			Expect(mem.tickets).To(BeEmpty())
		})

		It("attaches to the winner when another creator took the canonical key", func() {
			key := "500|csv|export"
			var competitorID int64 = 42
			mem.createFn = func(ctx context.Context, t *model.Ticket) error {
				mem.createFn = nil
				mem.seedTicket(model.Ticket{ID: competitorID, Title: "other", Category: model.CategoryBugReport, CanonicalKey: &key, UpdatedAt: now})
				return nil
			}

			msg := incoming("C1", "1000.1", "Export to CSV is broken, error 500")
			d, err := g.Group(ctx, input(msg, classified(model.CategoryBugReport, "CSV export fails", "csv")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.TicketID).To(Equal(competitorID))
			Expect(d.Created).To(BeFalse())
			Expect(d.Step).To(Equal(grouping.StepCanonicalKey))
			Expect(mem.tickets).To(HaveLen(1))
			Expect(mem.messagesOf(competitorID)).To(HaveLen(1))
		})
	})

	Describe("thread match", func() {
		It("attaches replies to the ticket of their thread", func() {
			root := incoming("C1", "2000.1", "invoice totals are wrong on the pdf")
			first, err := g.Group(ctx, input(root, classified(model.CategoryBugReport, "Wrong invoice totals")))
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(time.Hour)
			reply := incoming("C1", "2000.9", "any update?")
			reply.ThreadTS = "2000.1"
			second, err := g.Group(ctx, input(reply, classified(model.CategoryIrrelevant, "Update request")))

			Expect(err).NotTo(HaveOccurred())
			Expect(second.Step).To(Equal(grouping.StepThread))
			Expect(second.TicketID).To(Equal(first.TicketID))
			Expect(mem.tickets[first.TicketID].UpdatedAt).To(Equal(now))
		})

		It("resolves to one ticket when the reply arrives before its root", func() {
			reply := incoming("C1", "2000.9", "same here, totals are off")
			reply.ThreadTS = "2000.1"
			first, err := g.Group(ctx, input(reply, classified(model.CategoryBugReport, "Totals off")))
			Expect(err).NotTo(HaveOccurred())

			root := incoming("C1", "2000.1", "invoice totals are wrong on the pdf")
			root.ThreadTS = ""
			second, err := g.Group(ctx, input(root, classified(model.CategoryBugReport, "Wrong invoice totals")))

			Expect(err).NotTo(HaveOccurred())
			Expect(second.Step).To(Equal(grouping.StepThread))
			Expect(second.TicketID).To(Equal(first.TicketID))
		})

		It("propagates store failures", func() {
			mem.seedTicket(model.Ticket{ID: 7, Title: "t", Category: model.CategoryBugReport, UpdatedAt: now})
			mem.seedMessage(model.Message{ID: 1, TicketID: 7, ChannelID: "C1", TS: "1.1", ThreadTS: "1.1", CreatedAt: now})
			mem.attachFn = func(context.Context, *model.Message) error { return errors.New("connection refused") }

			reply := incoming("C1", "1.2", "more detail")
			reply.ThreadTS = "1.1"
			_, err := g.Group(ctx, input(reply, classified(model.CategoryBugReport, "Detail")))

			Expect(err).To(MatchError(ContainSubstring("connection refused")))
			Expect(mem.messagesOf(7)).To(HaveLen(1))
		})
	})

	Describe("canonical key match", func() {
		It("groups two phrasings of the same report", func() {
			first, err := g.Group(ctx, input(
				incoming("C1", "1000.1", "Export to CSV is broken, error 500"),
				classified(model.CategoryBugReport, "CSV export fails with 500", "csv", "export", "500"),
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Created).To(BeTrue())

			now = now.Add(2 * time.Minute)
			second, err := g.Group(ctx, input(
				incoming("C1", "1120.2", "csv export still gives 500"),
				classified(model.CategoryBugReport, "CSV export 500", "csv", "export", "500"),
			))

			Expect(err).NotTo(HaveOccurred())
			Expect(second.Step).To(Equal(grouping.StepCanonicalKey))
			Expect(second.TicketID).To(Equal(first.TicketID))
			Expect(second.Created).To(BeFalse())
			Expect(mem.tickets).To(HaveLen(1))
			Expect(mem.messagesOf(first.TicketID)).To(HaveLen(2))
		})

		It("ignores closed tickets", func() {
			key := "500|csv|export"
			mem.seedTicket(model.Ticket{ID: 9, Status: model.TicketStatusClosed, CanonicalKey: &key, UpdatedAt: now})

			d, err := g.Group(ctx, input(incoming("C2", "5.5", "csv export still gives 500"), classified(model.CategoryBugReport, "CSV 500")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
			Expect(d.TicketID).NotTo(Equal(int64(9)))
		})
	})

	Describe("semantic match", func() {
		It("picks the closer of the ticket and message indexes", func() {
			mem.seedTicket(model.Ticket{ID: 1, Title: "A", Category: model.CategoryBugReport, Embedding: unitAt(0.10), UpdatedAt: now.Add(-48 * time.Hour)})
			mem.seedTicket(model.Ticket{ID: 2, Title: "B", Category: model.CategoryBugReport, UpdatedAt: now.Add(-72 * time.Hour)})
			mem.seedMessage(model.Message{ID: 20, TicketID: 2, ChannelID: "C9", TS: "9.9", ThreadTS: "9.9", Embedding: unitAt(0.05), CreatedAt: now.Add(-72 * time.Hour)})

			d, err := g.Group(ctx, input(incoming("C1", "3.1", "reports page times out"), classified(model.CategoryBugReport, "Reports timeout")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Step).To(Equal(grouping.StepSemantic))
			Expect(d.TicketID).To(Equal(int64(2)))

			attached := mem.messagesOf(2)
			Expect(attached[len(attached)-1].Embedding).To(Equal([]float32{1, 0}))
		})

		It("rejects matches beyond the threshold", func() {
			mem.seedTicket(model.Ticket{ID: 1, Title: "A", Category: model.CategoryBugReport, Embedding: unitAt(0.20), UpdatedAt: now})

			d, err := g.Group(ctx, input(incoming("C1", "3.1", "reports page times out"), classified(model.CategoryBugReport, "Reports timeout")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
		})

		It("ignores tickets outside the lookback window", func() {
			mem.seedTicket(model.Ticket{ID: 1, Title: "A", Category: model.CategoryBugReport, Embedding: unitAt(0.01), UpdatedAt: now.AddDate(0, 0, -15)})

			d, err := g.Group(ctx, input(incoming("C1", "3.1", "reports page times out"), classified(model.CategoryBugReport, "Reports timeout")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
		})

		It("skips similarity steps when embedding fails", func() {
			embedder.embedFn = func(context.Context, string) ([]float32, error) { return nil, errors.New("quota") }
			mem.seedTicket(model.Ticket{ID: 1, Title: "A", Category: model.CategoryBugReport, Embedding: []float32{1, 0}, UpdatedAt: now})

			d, err := g.Group(ctx, input(incoming("C1", "3.1", "reports page times out"), classified(model.CategoryBugReport, "Reports timeout")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
			Expect(mem.tickets[d.TicketID].Embedding).To(BeNil())
		})
	})

	Describe("recent-channel fallback", func() {
		const ticketID int64 = 500

		seedRecent := func(embedding []float32) {
			mem.seedTicket(model.Ticket{
				ID:        ticketID,
				Title:     "Invoices missing",
				Category:  model.CategoryBugReport,
				Embedding: embedding,
				Summary:   model.TicketSummary{Description: "March invoices are missing", Priority: model.PriorityHigh},
				UpdatedAt: now.Add(-2 * time.Minute),
			})
			for i, text := range []string{"invoices are missing for march", "still nothing", "we need them for the audit", "any news"} {
				mem.seedMessage(model.Message{
					ID:        int64(600 + i),
					TicketID:  ticketID,
					ChannelID: "C1",
					TS:        "7.0" + string(rune('1'+i)),
					ThreadTS:  "7.0" + string(rune('1'+i)),
					UserID:    "U2",
					Text:      text,
					CreatedAt: now.Add(-2 * time.Minute),
				})
			}
		}

		embedAt := func(d float64) {
			embedder.embedFn = func(context.Context, string) ([]float32, error) { return unitAt(d), nil }
		}

		It("attaches when the score clears the threshold", func() {
			seedRecent([]float32{1, 0})
			embedAt(0.5)

			d, err := g.Group(ctx, input(incoming("C1", "8.1", "the export from yesterday is also empty"), classified(model.CategoryBugReport, "Empty export")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Step).To(Equal(grouping.StepRecentChannel))
			Expect(d.TicketID).To(Equal(ticketID))
			Expect(d.Score).NotTo(BeNil())
			Expect(d.Score.Total).To(BeNumerically("~", 0.85, 1e-6))
			Expect(arbiter.calls).To(BeEmpty())
		})

		It("blocks far-apart pairs across categories", func() {
			seedRecent([]float32{1, 0})
			embedAt(0.5)

			d, err := g.Group(ctx, input(incoming("C1", "8.1", "could we get a dark theme"), classified(model.CategoryFeatureRequest, "Dark theme", "palette")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
			Expect(d.TicketID).NotTo(Equal(ticketID))
		})

		It("lets a linked follow-up through the guardrail", func() {
			seedRecent([]float32{1, 0})
			embedAt(0.31)

			d, err := g.Group(ctx, input(incoming("C1", "8.1", "how do I resend an invoice"), classified(model.CategorySupportQuestion, "Resend invoice", "invoice")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Step).To(Equal(grouping.StepRecentChannel))
			Expect(d.TicketID).To(Equal(ticketID))
			Expect(d.Score.SignalOverlap).To(BeNumerically(">=", 1))
		})

		Describe("gray zone", func() {
			BeforeEach(func() {
				seedRecent([]float32{1, 0})
				embedAt(1.2)
			})

			grayInput := func() grouping.Input {
				return input(incoming("C1", "8.1", "is the invoice email template configurable"), classified(model.CategorySupportQuestion, "Invoice template", "invoice"))
			}

			It("merges when arbitration agrees with enough confidence", func() {
				arbiter.arbitrateFn = func(context.Context, grouping.ArbitrationInput) (grouping.Verdict, error) {
					return grouping.Verdict{ShouldMerge: true, Confidence: 0.9, Reason: "same invoices"}, nil
				}

				d, err := g.Group(ctx, grayInput())

				Expect(err).NotTo(HaveOccurred())
				Expect(d.TicketID).To(Equal(ticketID))
				Expect(d.Step).To(Equal(grouping.StepRecentChannel))
				Expect(arbiter.calls).To(HaveLen(1))

				call := arbiter.calls[0]
				Expect(call.Ticket.ID).To(Equal(ticketID))
				Expect(call.RecentMessages).To(HaveLen(3))
				Expect(call.RecentMessages[2].Text).To(Equal("any news"))
				Expect(call.Score.Total).To(BeNumerically("~", 0.64, 1e-3))
			})

			It("does not merge on low confidence", func() {
				arbiter.arbitrateFn = func(context.Context, grouping.ArbitrationInput) (grouping.Verdict, error) {
					return grouping.Verdict{ShouldMerge: true, Confidence: 0.6}, nil
				}

				d, err := g.Group(ctx, grayInput())

				Expect(err).NotTo(HaveOccurred())
				Expect(d.Created).To(BeTrue())
			})

			It("does not merge when arbitration fails", func() {
				arbiter.arbitrateFn = func(context.Context, grouping.ArbitrationInput) (grouping.Verdict, error) {
					return grouping.Verdict{}, errors.New("timeout")
				}

				d, err := g.Group(ctx, grayInput())

				Expect(err).NotTo(HaveOccurred())
				Expect(d.Created).To(BeTrue())
			})
		})

		It("does not arbitrate scores far below the threshold", func() {
			seedRecent([]float32{1, 0})
			embedAt(2.0)

			d, err := g.Group(ctx, input(incoming("C1", "8.1", "invoice pdf font is tiny"), classified(model.CategoryFeatureRequest, "Invoice font", "invoice")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
			Expect(arbiter.calls).To(BeEmpty())
		})

		It("attaches unconditionally to tickets without an embedding", func() {
			seedRecent(nil)
			embedAt(2.0)

			d, err := g.Group(ctx, input(incoming("C1", "8.1", "could we get a dark theme"), classified(model.CategoryFeatureRequest, "Dark theme")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.TicketID).To(Equal(ticketID))
			Expect(d.Score).To(BeNil())
		})

		It("falls through when embedding dimensions differ", func() {
			seedRecent([]float32{1, 0, 0})
			embedAt(0.0)

			d, err := g.Group(ctx, input(incoming("C1", "8.1", "the export from yesterday is also empty"), classified(model.CategoryBugReport, "Empty export")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
		})

		It("ignores channels without recent activity", func() {
			seedRecent([]float32{1, 0})
			embedAt(0.5)

			d, err := g.Group(ctx, input(incoming("C2", "8.1", "the export from yesterday is also empty"), classified(model.CategoryBugReport, "Empty export")))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Created).To(BeTrue())
		})
	})

	Describe("embedding reuse", func() {
		msg := incoming("C1", "1.1", "reports page times out")
		cls := classified(model.CategoryBugReport, "Reports timeout")

		It("embeds once per run by default", func() {
			d, err := g.Group(ctx, input(msg, cls))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Embeddings).To(Equal(1))
			Expect(embedder.calls).To(Equal(1))
		})

		It("re-embeds in every step when reuse is off", func() {
			cfg.ReuseEmbedding = false
			build()

			d, err := g.Group(ctx, input(msg, cls))

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Embeddings).To(Equal(2))
			Expect(embedder.calls).To(Equal(2))
		})

		It("uses a precomputed embedding without calling the embedder", func() {
			in := input(msg, cls)
			in.Embedding = []float32{0, 1}

			d, err := g.Group(ctx, in)

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Embeddings).To(BeZero())
			Expect(embedder.calls).To(BeZero())
			Expect(mem.tickets[d.TicketID].Embedding).To(Equal([]float32{0, 1}))
		})

		It("builds the embedding text from category, title, signals and message", func() {
			var seen string
			embedder.embedFn = func(_ context.Context, text string) ([]float32, error) {
				seen = text
				return []float32{1, 0}, nil
			}

			_, err := g.Group(ctx, input(msg, classified(model.CategoryBugReport, "Reports timeout", "report", "timeout")))

			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(Equal("bug_report: Reports timeout\nSignals: report, timeout\nMessage: reports page times out"))
		})
	})

	Describe("summary refresh", func() {
		var key string

		BeforeEach(func() {
			key = "500|csv|export"
			mem.seedTicket(model.Ticket{
				ID:           77,
				Title:        "CSV export question",
				Category:     model.CategorySupportQuestion,
				CanonicalKey: &key,
				Assignees:    []string{"alice"},
				Summary:      model.TicketSummary{Description: "stored", Priority: model.PriorityHigh},
				UpdatedAt:    now.Add(-time.Hour),
			})
			mem.seedMessage(model.Message{ID: 1, TicketID: 77, ChannelID: "C1", TS: "1.0", ThreadTS: "1.0", Text: "how do I export csv", CreatedAt: now.Add(-time.Hour)})
		})

		attachBug := func(confidence float64, inferred ...string) grouping.Decision {
			cls := classified(model.CategoryBugReport, "CSV export 500", "csv")
			cls.Confidence = confidence
			cls.InferredAssignees = inferred
			d, err := g.Group(ctx, input(incoming("C1", "2.0", "csv export still gives 500"), cls))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.TicketID).To(Equal(int64(77)))
			return d
		}

		It("summarizes the whole conversation with the current priority", func() {
			attachBug(0.9)

			Expect(summarizer.conversations).To(HaveLen(1))
			in := summarizer.conversations[0]
			Expect(in.Messages).To(HaveLen(2))
			Expect(in.CurrentPriority).To(Equal(model.PriorityHigh))
			Expect(mem.tickets[77].Summary.Description).To(Equal("refreshed"))
		})

		It("keeps the stored summary when generation falls back", func() {
			summarizer.conversationFn = func(_ context.Context, in summary.ConversationInput) model.TicketSummary {
				return summary.Fallback(in.Title, in.Category, "")
			}

			attachBug(0.9)

			Expect(mem.tickets[77].Summary.Description).To(Equal("stored"))
		})

		It("unions inferred assignees", func() {
			attachBug(0.9, "bob", "alice")

			Expect(mem.tickets[77].Assignees).To(Equal([]string{"alice", "bob"}))
		})

		It("promotes a support question on a confident bug report", func() {
			attachBug(0.85)

			Expect(mem.tickets[77].Category).To(Equal(model.CategoryBugReport))
		})

		It("does not promote on a weak bug report", func() {
			attachBug(0.5)

			Expect(mem.tickets[77].Category).To(Equal(model.CategorySupportQuestion))
		})
	})
})
