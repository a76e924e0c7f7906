package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/internal/http/handler"
	"nixo.app/triage/internal/notify"
)

var _ = Describe("EventsHandler", func() {
	var (
		router *gin.Engine
		sub    *mockSubscriber
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		sub = &mockSubscriber{}
		h := handler.NewEventsHandler(sub, time.Hour)
		router.GET("/events", h.Stream)
	})

	It("streams ticket events until the subscription ends", func() {
		sub.subscribeFn = func(context.Context) (<-chan notify.Event, error) {
			ch := make(chan notify.Event, 2)
			ch <- notify.Event{TicketID: 42, Step: "thread", At: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
			ch <- notify.Event{TicketID: 43, Step: "create", Created: true}
			close(ch)
			return ch, nil
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Content-Type")).To(HavePrefix("text/event-stream"))
		body := w.Body.String()
		Expect(body).To(ContainSubstring("event:ticket.updated"))
		Expect(body).To(ContainSubstring(`"ticket_id":"42"`))
		Expect(body).To(ContainSubstring(`"step":"thread"`))
		Expect(body).To(ContainSubstring(`"ticket_id":"43"`))
		Expect(body).To(ContainSubstring(`"created":true`))
	})

	It("stops when the client goes away", func() {
		sub.subscribeFn = func(context.Context) (<-chan notify.Event, error) {
			return make(chan notify.Event), nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
		w := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			router.ServeHTTP(w, req)
			close(done)
		}()
		cancel()

		Eventually(done).Should(BeClosed())
	})

	It("returns 503 when the broker is unavailable", func() {
		sub.subscribeFn = func(context.Context) (<-chan notify.Event, error) {
			return nil, errors.New("subscribing to tickets:updated: connection refused")
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
