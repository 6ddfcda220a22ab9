package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/queue"
)

// STKCallback is the mobile money push-payment result envelope.
type STKCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func ack(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// PaymentCallback queues a grant for a confirmed payment and cancels the
// session for a failed one. Every parsed callback is acknowledged unless
// storage fails.
func (h *Handler) PaymentCallback(c *gin.Context) {
	var body STKCallback
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid callback body")
		return
	}

	cb := body.Body.StkCallback
	logger := h.logger.With(zap.String("checkout_request_id", cb.CheckoutRequestID), zap.Int("result_code", cb.ResultCode))
	ctx := c.Request.Context()

	if cb.CheckoutRequestID == "" {
		badRequest(c, "checkout request id required")
		return
	}

	sess, err := h.store.FindSessionByCheckoutID(ctx, cb.CheckoutRequestID)
	if errors.Is(err, core.ErrNotFound) {
		logger.Warn("Callback for unknown checkout")
		ack(c)
		return
	}
	if err != nil {
		logger.Error("Failed to look up session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to process callback"})
		return
	}

	logger = logger.With(zap.String("tenant_id", sess.TenantID), zap.String("session_id", sess.ID))
	if sess.Status != core.StatusPending {
		logger.Info("Ignoring callback for session that is not pending", zap.String("status", string(sess.Status)))
		ack(c)
		return
	}

	if cb.ResultCode != 0 {
		if err := h.store.UpdateSessionStatus(ctx, sess.ID, core.StatusCancelled, cb.ResultDesc, nil); err != nil {
			logger.Error("Failed to cancel session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to process callback"})
			return
		}
		logger.Info("Payment failed, session cancelled", zap.String("result_desc", cb.ResultDesc))
		ack(c)
		return
	}

	job := queue.NewJob(sess.TenantID, sess.ID, time.Now())
	if err := h.queue.Push(ctx, job, 0); err != nil {
		logger.Error("Failed to queue grant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to process callback"})
		return
	}
	logger.Info("Payment confirmed, grant queued", zap.String("job_id", job.ID))
	ack(c)
}
