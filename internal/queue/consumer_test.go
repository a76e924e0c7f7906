package queue_test

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/queue"
)

var _ = Describe("ParseMessage", func() {
	It("decodes what a producer writes", func() {
		name := "Dana"
		values, err := queue.Task{
			Message: model.IncomingMessage{
				ChannelID: "C1",
				TS:        "1700000000.000200",
				ThreadTS:  "1700000000.000100",
				UserID:    "U1",
				UserName:  &name,
				Text:      "export is broken",
			},
			DedupeKey: "evt-1",
			TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
		}.Values()
		Expect(err).NotTo(HaveOccurred())

		// Redis hands every field back as a string.
		raw := redis.XMessage{ID: "1-0", Values: map[string]any{}}
		for k, v := range values {
			raw.Values[k] = fmt.Sprint(v)
		}

		msg, err := queue.ParseMessage(raw)

		Expect(err).NotTo(HaveOccurred())
		Expect(msg.ID).To(Equal("1-0"))
		Expect(msg.Attempt).To(Equal(1))
		Expect(msg.DedupeKey).To(Equal("evt-1"))
		Expect(msg.TraceID).To(Equal("4bf92f3577b34da6a3ce929d0e0e4736"))
		Expect(msg.Incoming.ThreadTS).To(Equal("1700000000.000100"))
		Expect(*msg.Incoming.UserName).To(Equal("Dana"))
		Expect(msg.Incoming.IsThreadReply()).To(BeTrue())
	})

	DescribeTable("rejects malformed messages",
		func(values map[string]any, want string) {
			_, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: values})
			Expect(err).To(MatchError(ContainSubstring(want)))
		},
		Entry("no payload", map[string]any{"attempt": "1"}, "missing payload"),
		Entry("not json", map[string]any{"payload": "{"}, "decoding payload"),
		Entry("no channel", map[string]any{"payload": `{"ts":"1.1","text":"x"}`}, "missing channel_id"),
		Entry("bad attempt", map[string]any{"payload": `{"channel_id":"C1","ts":"1.1"}`, "attempt": "two"}, "parsing attempt"),
	)
})

var _ = Describe("DeadLetterValues", func() {
	It("keeps the raw fields and records the reason", func() {
		values := queue.DeadLetterValues(redis.XMessage{ID: "9-1", Values: map[string]any{"payload": "{"}}, "decoding payload")

		Expect(values).To(HaveKeyWithValue("payload", "{"))
		Expect(values).To(HaveKeyWithValue("error", "decoding payload"))
		Expect(values).To(HaveKeyWithValue("original_id", "9-1"))
	})
})
