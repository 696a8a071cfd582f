package handler

import (
	"errors"
	"net/http"

	"parking_ledger/internal/api/middleware"
	"parking_ledger/internal/domain"
	"parking_ledger/internal/lock"
	"parking_ledger/internal/repository"
	"parking_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	// checked first, it wraps the repository sentinel that caused it
	case errors.Is(err, service.ErrConsistencyFault):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidPlate),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidDate),
		errors.Is(err, service.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateEntry),
		errors.Is(err, lock.ErrLockTimeout),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"error": msg, "request_id": middleware.GetRequestID(c)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "request_id": middleware.GetRequestID(c)})
}
