// README: Domain error to HTTP status mapping tests.
package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"hail/internal/modules/assignment"
	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/payment"
)

func TestWriteDomainError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		want int
	}{
		{booking.ErrBadRequest, http.StatusBadRequest},
		{booking.ErrNotFound, http.StatusNotFound},
		{driver.ErrNotFound, http.StatusNotFound},
		{assignment.ErrNotFound, http.StatusNotFound},
		{booking.ErrUnauthorized, http.StatusForbidden},
		{payment.ErrUnauthorized, http.StatusForbidden},
		{location.ErrUnauthorized, http.StatusForbidden},
		{booking.ErrInvalidTransition, http.StatusConflict},
		{booking.ErrConflict, http.StatusConflict},
		{driver.ErrActiveJob, http.StatusConflict},
		{assignment.ErrBookingNotAssignable, http.StatusConflict},
		{assignment.ErrDriverUnavailable, http.StatusConflict},
		{assignment.ErrDriverHasActiveJob, http.StatusConflict},
		{assignment.ErrDriverAlreadyRejected, http.StatusConflict},
		{payment.ErrAlreadyPaid, http.StatusConflict},
		{payment.ErrNoCharge, http.StatusConflict},
		{payment.ErrAlreadyRefunded, http.StatusConflict},
		{payment.ErrPaymentNotCompleted, http.StatusConflict},
		{assignment.ErrSelfAssignment, http.StatusUnprocessableEntity},
		{location.ErrRateLimited, http.StatusTooManyRequests},
		{payment.ErrProcessorUnavailable, http.StatusServiceUnavailable},
		{errors.New("pg: connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		writeDomainError(c, tc.err)
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeDomainError(c, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	if body := w.Body.String(); body != `{"error":"internal error"}` {
		t.Fatalf("store internals must not leak, got %s", body)
	}
}
