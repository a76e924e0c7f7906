package classify_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/common/llm"
	"nixo.app/triage/internal/cache"
	"nixo.app/triage/internal/classify"
	"nixo.app/triage/internal/model"
)

type mockLLM struct {
	chatFn func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	calls  int
}

func (m *mockLLM) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.calls++
	if m.chatFn != nil {
		return m.chatFn(ctx, req, result)
	}
	return &llm.Response{}, nil
}

func (m *mockLLM) Model() string { return "mock" }

func respondWith(payload string) func(context.Context, llm.Request, any) (*llm.Response, error) {
	return func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
		return &llm.Response{PromptTokens: 10, CompletionTokens: 5}, json.Unmarshal([]byte(payload), result)
	}
}

const bugPayload = `{
	"is_relevant": true,
	"category": "bug_report",
	"confidence": 0.92,
	"short_title": "CSV export fails with 500",
	"signals": ["CSV", "export", "500", "csv"],
	"inferred_assignees": []
}`

var _ = Describe("Classifier", func() {
	var (
		ctx    context.Context
		client *mockLLM
		now    time.Time
		c      *cache.Cache[model.Classification]
		cl     *classify.Classifier
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLM{}
		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		c = cache.New[model.Classification](time.Hour, time.Minute, func() time.Time { return now })
		cl = classify.New(client, c)
	})

	It("returns the validated model answer", func() {
		client.chatFn = respondWith(bugPayload)

		result := cl.Classify(ctx, "Export to CSV is broken, error 500", "export to csv is broken, error 500")

		Expect(result.IsRelevant).To(BeTrue())
		Expect(result.Category).To(Equal(model.CategoryBugReport))
		Expect(result.Confidence).To(BeNumerically("~", 0.92))
		Expect(result.ShortTitle).To(Equal("CSV export fails with 500"))
		Expect(result.Signals).To(Equal([]string{"csv", "export", "500"}))
	})

	It("requests a strict schema at zero temperature", func() {
		var captured llm.Request
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			captured = req
			return respondWith(bugPayload)(ctx, req, result)
		}

		cl.Classify(ctx, "Export to CSV is broken", "export to csv is broken")

		Expect(captured.SchemaName).To(Equal("message_classification"))
		Expect(captured.Schema).NotTo(BeNil())
		Expect(captured.UserPrompt).To(Equal("Export to CSV is broken"))
		Expect(*captured.Temperature).To(BeZero())
	})

	It("serves repeats from the cache without calling the model", func() {
		client.chatFn = respondWith(bugPayload)

		first := cl.Classify(ctx, "Export to CSV is broken", "export to csv is broken")
		now = now.Add(59 * time.Minute)
		second := cl.Classify(ctx, "EXPORT to csv is broken", "export to csv is broken")

		Expect(client.calls).To(Equal(1))
		Expect(second).To(Equal(first))
	})

	It("calls the model again once the cached entry expired", func() {
		client.chatFn = respondWith(bugPayload)

		cl.Classify(ctx, "Export to CSV is broken", "export to csv is broken")
		now = now.Add(61 * time.Minute)
		cl.Classify(ctx, "Export to CSV is broken", "export to csv is broken")

		Expect(client.calls).To(Equal(2))
	})

	It("does not let callers mutate cached results", func() {
		client.chatFn = respondWith(bugPayload)

		first := cl.Classify(ctx, "x", "x")
		first.Signals[0] = "mutated"
		second := cl.Classify(ctx, "x", "x")

		Expect(second.Signals[0]).To(Equal("csv"))
	})

	Describe("fallback", func() {
		long := strings.Repeat("é", 80)

		It("falls back on provider errors without retrying", func() {
			client.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
				return nil, errors.New("connection reset")
			}

			result := cl.Classify(ctx, long, long)

			Expect(client.calls).To(Equal(1))
			Expect(result.IsRelevant).To(BeFalse())
			Expect(result.Category).To(Equal(model.CategoryIrrelevant))
			Expect(result.Confidence).To(BeZero())
			Expect(result.ShortTitle).To(Equal(strings.Repeat("é", 50)))
			Expect(result.Signals).To(BeEmpty())
		})

		It("does not cache fallbacks", func() {
			client.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
				return nil, errors.New("timeout")
			}
			cl.Classify(ctx, "hello", "hello")
			cl.Classify(ctx, "hello", "hello")

			Expect(client.calls).To(Equal(2))
			Expect(c.Len()).To(Equal(0))
		})

		DescribeTable("rejects answers that fail validation",
			func(payload string) {
				client.chatFn = respondWith(payload)
				result := cl.Classify(ctx, "Export broken", "export broken")
				Expect(result).To(Equal(classify.Fallback("Export broken")))
			},
			Entry("unknown category", `{"is_relevant":true,"category":"rant","confidence":0.5,"short_title":"t","signals":[],"inferred_assignees":[]}`),
			Entry("confidence above one", `{"is_relevant":true,"category":"bug_report","confidence":1.5,"short_title":"t","signals":[],"inferred_assignees":[]}`),
			Entry("negative confidence", `{"is_relevant":true,"category":"bug_report","confidence":-0.1,"short_title":"t","signals":[],"inferred_assignees":[]}`),
			Entry("blank title", `{"is_relevant":true,"category":"bug_report","confidence":0.5,"short_title":"  ","signals":[],"inferred_assignees":[]}`),
		)
	})

	It("caps the short title at one hundred characters", func() {
		client.chatFn = respondWith(`{"is_relevant":true,"category":"feature_request","confidence":0.7,"short_title":"` +
			strings.Repeat("a", 150) + `","signals":[],"inferred_assignees":["@dana"]}`)

		result := cl.Classify(ctx, "long", "long")

		Expect(result.ShortTitle).To(HaveLen(100))
		Expect(result.InferredAssignees).To(Equal([]string{"@dana"}))
	})

	It("works without a cache", func() {
		client.chatFn = respondWith(bugPayload)
		uncached := classify.New(client, nil)

		uncached.Classify(ctx, "x", "x")
		uncached.Classify(ctx, "x", "x")

		Expect(client.calls).To(Equal(2))
	})
})
