package router

import (
	"github.com/gin-gonic/gin"

	"nixo.app/triage/internal/http/handler"
)

func TicketRouter(router *gin.RouterGroup, tickets *handler.TicketHandler, events *handler.EventsHandler) {
	router.GET("", tickets.List)
	if events != nil {
		router.GET("/events", events.Stream)
	}
	router.GET("/:id", tickets.Get)
	router.PATCH("/:id/status", tickets.UpdateStatus)
}
