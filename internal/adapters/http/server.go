// Package httpapi is the back-office HTTP surface: cancellations, manual resends, the
// escalation queue and the in-app websocket.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"innkeep/internal/booking"
	"innkeep/internal/escalation"
	"innkeep/internal/notification"
	"innkeep/internal/observability"
	"innkeep/internal/refund"
)

type Refunder interface {
	Initiate(ctx context.Context, bookingID, actorID string, req booking.CancellationRequest) (refund.Result, error)
}

type RefundHistory interface {
	ListByBooking(ctx context.Context, bookingID string) ([]refund.Record, error)
}

type Resender interface {
	Resend(ctx context.Context, notificationID, staffID string) (notification.Record, error)
}

type EscalationQueue interface {
	List(all bool) ([]escalation.QueuedCase, error)
	Resolve(id, staffID string) (escalation.QueuedCase, error)
}

type Sockets interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string) error
}

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Deps wires the handlers. History, Escalations, Sockets, Limiter and Metrics are
// optional; their routes answer 501 or are skipped when unset.
type Deps struct {
	Refunds       Refunder
	History       RefundHistory
	Notifications Resender
	Escalations   EscalationQueue
	Sockets       Sockets
	Limiter       RateLimiter
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

type Server struct {
	deps   Deps
	router *gin.Engine
}

func NewServer(deps Deps) *Server {
	router := gin.New()
	s := &Server{deps: deps, router: router}

	router.Use(gin.Recovery(), s.observe())

	bookings := router.Group("/bookings")
	{
		bookings.POST("/:id/cancel", s.handleCancel)
		bookings.GET("/:id/refunds", s.handleRefunds)
	}
	router.POST("/notifications/:id/resend", s.handleResend)

	escalations := router.Group("/escalations")
	{
		escalations.GET("", s.handleListEscalations)
		escalations.POST("/:id/resolve", s.handleResolveEscalation)
	}

	if deps.Sockets != nil {
		router.GET("/ws/:user_id", s.handleWS)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// observe applies the rate limiter and records a metrics span per route.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		start := time.Now()
		span := s.deps.Metrics.Start(c.Request.Method + " " + route)

		if s.deps.Limiter != nil {
			if err := s.deps.Limiter.Wait(c.Request.Context()); err != nil {
				span.End(err)
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
				return
			}
		}

		c.Next()

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		span.End(err)
		if err != nil {
			s.deps.Logger.Warn().
				Err(err).
				Str("route", route).
				Int("status", c.Writer.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request failed")
		}
	}
}
