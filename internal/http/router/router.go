package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nixo.app/triage/internal/http/handler"
	"nixo.app/triage/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	Events          handler.EventSubscriber
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		messageHandler := handler.NewMessageHandler(services.MessageIngest(), cfg.TraceHeaderName)
		MessageRouter(v1.Group("/messages"), messageHandler)

		ticketHandler := handler.NewTicketHandler(services.Tickets())
		var eventsHandler *handler.EventsHandler
		if cfg.Events != nil {
			eventsHandler = handler.NewEventsHandler(cfg.Events, 0)
		}
		TicketRouter(v1.Group("/tickets"), ticketHandler, eventsHandler)
	}
}
