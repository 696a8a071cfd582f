package domain

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// ParkingSession is one vehicle visit, from entry to exit.
type ParkingSession struct {
	ID            int         `json:"id"`
	Plate         string      `json:"plate"`
	EntryTime     time.Time   `json:"entry_time"`
	ExitTime      null.Time   `json:"exit_time"`
	Amount        null.Int    `json:"amount"`
	PaymentMethod null.String `json:"payment_method"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsOpen reports whether the vehicle is still inside the lot.
func (s *ParkingSession) IsOpen() bool {
	return !s.ExitTime.Valid
}

// State returns the persisted lifecycle state. A pending exit is never stored,
// so an open row always reports StateOpen.
func (s *ParkingSession) State() SessionState {
	if s == nil {
		return StateNoSession
	}
	if s.IsOpen() {
		return StateOpen
	}
	return StateClosed
}

// DTO for POST /events
type RegisterEventDTO struct {
	Plate         string `json:"plate" binding:"required"`
	PaymentMethod string `json:"payment_method,omitempty"`
	OccurredAt    string `json:"occurred_at,omitempty"`
}

// DTO for PUT /parking-sessions/:id (administrative override)
type UpdateParkingSessionDTO struct {
	Plate         string `json:"plate" binding:"required"`
	EntryTime     string `json:"entry_time" binding:"required"`
	ExitTime      string `json:"exit_time,omitempty"`
	Amount        *int64 `json:"amount,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
}
