package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"innkeep/internal/booking"
	"innkeep/internal/escalation"
	"innkeep/internal/notification"
	"innkeep/internal/refund"
)

type cancelRequest struct {
	ActorID string        `json:"actor_id"`
	Penalty booking.Money `json:"penalty"`
	Reason  string        `json:"reason"`
}

type staffRequest struct {
	StaffID string `json:"staff_id"`
}

type notificationView struct {
	ID        string              `json:"id"`
	Type      notification.Type   `json:"type"`
	UserID    string              `json:"user_id"`
	BookingID string              `json:"booking_id"`
	Status    notification.Status `json:"status"`
	Attempts  int                 `json:"attempts"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type refundView struct {
	ID            string                `json:"id"`
	TransactionID string                `json:"transaction_id"`
	Amount        booking.Money         `json:"amount"`
	Status        refund.Status         `json:"status"`
	PaymentMethod booking.PaymentMethod `json:"payment_method"`
	ProcessedAt   time.Time             `json:"processed_at"`
	Details       refund.Details        `json:"details"`
}

func (s *Server) handleCancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	bookingID := c.Param("id")
	res, err := s.deps.Refunds.Initiate(c.Request.Context(), bookingID, req.ActorID, booking.CancellationRequest{
		BookingID: bookingID,
		Penalty:   req.Penalty,
		Reason:    req.Reason,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRefunds(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "refund history not configured"})
		return
	}
	records, err := s.deps.History.ListByBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	out := make([]refundView, 0, len(records))
	for _, rec := range records {
		out = append(out, refundView{
			ID:            rec.ID,
			TransactionID: rec.TransactionID,
			Amount:        rec.Amount,
			Status:        rec.Status,
			PaymentMethod: rec.PaymentMethod,
			ProcessedAt:   rec.ProcessedAt,
			Details:       rec.Details,
		})
	}
	c.JSON(http.StatusOK, gin.H{"refunds": out})
}

func (s *Server) handleResend(c *gin.Context) {
	var req staffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	rec, err := s.deps.Notifications.Resend(c.Request.Context(), c.Param("id"), req.StaffID)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, notificationView{
		ID:        rec.ID,
		Type:      rec.Type,
		UserID:    rec.UserID,
		BookingID: rec.BookingID,
		Status:    rec.Status,
		Attempts:  rec.Attempts,
		UpdatedAt: rec.UpdatedAt,
	})
}

func (s *Server) handleListEscalations(c *gin.Context) {
	if s.deps.Escalations == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "escalation queue not configured"})
		return
	}
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	items, err := s.deps.Escalations.List(all)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": items})
}

func (s *Server) handleResolveEscalation(c *gin.Context) {
	if s.deps.Escalations == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "escalation queue not configured"})
		return
	}
	var req staffRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StaffID == "" {
		s.fail(c, http.StatusBadRequest, notification.ErrStaffRequired)
		return
	}
	item, err := s.deps.Escalations.Resolve(c.Param("id"), req.StaffID)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleWS(c *gin.Context) {
	if err := s.deps.Sockets.ServeWS(c.Writer, c.Request, c.Param("user_id")); err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	if errors.Is(err, refund.ErrRefundProcessingFailed) || errors.Is(err, notification.ErrNotificationDeliveryFailed) {
		body["escalated"] = true
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, refund.ErrBookingNotFound),
		errors.Is(err, notification.ErrNotificationNotFound),
		errors.Is(err, escalation.ErrCaseNotFound),
		errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, refund.ErrUnsupportedPaymentMethod),
		errors.Is(err, refund.ErrPenaltyExceedsTotal),
		errors.Is(err, refund.ErrInvalidPenalty),
		errors.Is(err, notification.ErrStaffRequired),
		errors.Is(err, notification.ErrMissingRecipient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, refund.ErrBookingAlreadyCancelled),
		errors.Is(err, refund.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, refund.ErrRefundProcessingFailed),
		errors.Is(err, notification.ErrNotificationDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
