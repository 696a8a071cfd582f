package repository

import (
	"context"
	"errors"
	"parking_ledger/internal/domain"
	"time"
)

var ErrNotFound = errors.New("record not found")
var ErrDuplicateEntry = errors.New("plate already has an open session")
var ErrNoActiveSession = errors.New("no open session for the given plate or id")

type ParkingSessionRepository interface {
	// FindOpenByPlate returns the most recently opened session without exit time.
	FindOpenByPlate(ctx context.Context, plate string) (*domain.ParkingSession, error)
	Create(ctx context.Context, plate string, entryTime time.Time) (*domain.ParkingSession, error)
	// Close sets exit time, amount and payment method on an open session in one update.
	Close(ctx context.Context, id int, exitTime time.Time, amount int64, paymentMethod string) error
	FindByID(ctx context.Context, id int) (*domain.ParkingSession, error)
	// ListByEntryWindow returns sessions whose entry time falls in [from, to).
	ListByEntryWindow(ctx context.Context, from, to time.Time) ([]domain.ParkingSession, error)
	SumAmountsByPaymentMethod(ctx context.Context, from, to time.Time) (map[string]int64, error)
	Update(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error)
	Delete(ctx context.Context, id int) error
	// WithinTx runs fn against a repository scoped to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(repo ParkingSessionRepository) error) error
}
