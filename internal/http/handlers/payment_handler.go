// README: Payment handlers: intent creation/reuse and refunds.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hail/internal/http/middleware"
	"hail/internal/modules/payment"
	"hail/internal/types"
)

type PaymentHandler struct {
	payment *payment.Service
}

func NewPaymentHandler(svc *payment.Service) *PaymentHandler {
	return &PaymentHandler{payment: svc}
}

func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return
	}
	intent, err := h.payment.CreateOrReuseIntent(c.Request.Context(), payment.IntentCommand{
		Actor:     middleware.CallerActor(c),
		BookingID: types.ID(id),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"intent_id":     intent.ID,
		"client_secret": intent.ClientSecret,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
		"status":        intent.Status,
	})
}

type refundReq struct {
	Reason string `json:"reason"`
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return
	}
	var req refundReq
	_ = c.ShouldBindJSON(&req)
	refund, err := h.payment.RefundBooking(c.Request.Context(), payment.RefundCommand{
		Actor:     middleware.CallerActor(c),
		BookingID: types.ID(id),
		Reason:    req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"refund_id": refund.ID,
		"amount":    refund.Amount,
		"status":    refund.Status,
	})
}
