// README: Base handler utilities (JSON helpers, domain error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hail/internal/modules/assignment"
	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/payment"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps sentinel errors onto client-safe responses. Store
// internals never leak; anything unrecognized is a plain 500.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, booking.ErrBadRequest), errors.Is(err, driver.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, driver.ErrNotFound),
		errors.Is(err, assignment.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrUnauthorized),
		errors.Is(err, payment.ErrUnauthorized),
		errors.Is(err, location.ErrUnauthorized),
		errors.Is(err, assignment.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, assignment.ErrSelfAssignment):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, location.ErrRateLimited):
		writeError(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, payment.ErrProcessorUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrConflict),
		errors.Is(err, driver.ErrConflict),
		errors.Is(err, driver.ErrActiveJob),
		errors.Is(err, assignment.ErrBookingNotAssignable),
		errors.Is(err, assignment.ErrDriverUnavailable),
		errors.Is(err, assignment.ErrDriverHasActiveJob),
		errors.Is(err, assignment.ErrDriverAlreadyRejected),
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrNoCharge),
		errors.Is(err, payment.ErrAlreadyRefunded),
		errors.Is(err, payment.ErrPaymentNotCompleted):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
