package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"parking_ledger/internal/domain"
	"parking_ledger/internal/lock"
	"parking_ledger/internal/repository"
	"parking_ledger/internal/service"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty", service.ErrInvalidPlate), http.StatusBadRequest},
		{service.ErrInvalidPaymentMethod, http.StatusBadRequest},
		{service.ErrInvalidDate, http.StatusBadRequest},
		{service.ErrInvalidSession, http.StatusBadRequest},
		{repository.ErrNotFound, http.StatusNotFound},
		{repository.ErrNoActiveSession, http.StatusNotFound},
		{repository.ErrDuplicateEntry, http.StatusConflict},
		{lock.ErrLockTimeout, http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("%w: session 1: %w", service.ErrConsistencyFault, repository.ErrNoActiveSession), http.StatusConflict},
		{fmt.Errorf("%w: %w", service.ErrStorageUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
