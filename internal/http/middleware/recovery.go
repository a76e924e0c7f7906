package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/gin-gonic/gin"

	"nixo.app/triage/common/logger"
	"nixo.app/triage/internal/http/dto"
)

// Recovery turns a handler panic into a 500 with the API's error body. The panic is
// logged with the route and, for ticket routes, the ticket id.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		fields := logger.LogFields{Component: "triage.http"}
		if id, err := strconv.ParseInt(c.Param("id"), 10, 64); err == nil {
			fields.TicketID = &id
		}
		ctx := logger.WithLogFields(c.Request.Context(), fields)

		slog.ErrorContext(ctx, "panic recovered",
			"panic", recovered,
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"stack", string(debug.Stack()),
		)

		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	})
}
