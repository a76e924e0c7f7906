package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/internal/http/handler"
	"nixo.app/triage/internal/service"
)

var _ = Describe("MessageHandler", func() {
	var (
		router *gin.Engine
		svc    *mockIngestService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockIngestService{}
		h := handler.NewMessageHandler(svc, "X-Trace-Id")
		router.POST("/messages", h.Ingest)
	})

	post := func(body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	const valid = `{"channel_id":"C1","ts":"1.2","thread_ts":"1.1","user_id":"U1","user_name":"Dana","text":"export broken"}`

	It("returns 202 and forwards the message and trace id", func() {
		var got service.MessageIngestParams
		svc.ingestFn = func(_ context.Context, p service.MessageIngestParams) (*service.MessageIngestResult, error) {
			got = p
			return &service.MessageIngestResult{DedupeKey: "msg:abc", StreamMessageID: "5-0", Enqueued: true}, nil
		}

		w := post(valid, map[string]string{"X-Trace-Id": "trace-1"})

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(got.ChannelID).To(Equal("C1"))
		Expect(got.ThreadTS).To(Equal("1.1"))
		Expect(*got.UserName).To(Equal("Dana"))
		Expect(*got.TraceID).To(Equal("trace-1"))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["dedupe_key"]).To(Equal("msg:abc"))
		Expect(resp["stream_message_id"]).To(Equal("5-0"))
		Expect(resp["enqueued"]).To(BeTrue())
	})

	It("returns 200 for a duplicate delivery", func() {
		svc.ingestFn = func(context.Context, service.MessageIngestParams) (*service.MessageIngestResult, error) {
			return &service.MessageIngestResult{DedupeKey: "msg:abc", Duplicated: true}, nil
		}

		w := post(valid, nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"duplicated":true`))
	})

	It("returns 400 when required fields are missing", func() {
		w := post(`{"channel_id":"C1","ts":"1.2"}`, nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 400 when the service rejects the message", func() {
		svc.ingestFn = func(context.Context, service.MessageIngestParams) (*service.MessageIngestResult, error) {
			return nil, fmt.Errorf("%w: text is empty", service.ErrInvalidMessage)
		}

		w := post(valid, nil)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 500 when the service fails", func() {
		svc.ingestFn = func(context.Context, service.MessageIngestParams) (*service.MessageIngestResult, error) {
			return nil, errors.New("redis down")
		}

		w := post(valid, nil)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).NotTo(ContainSubstring("redis"))
	})
})
