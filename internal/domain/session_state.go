package domain

import (
	"errors"
	"fmt"
)

type SessionState string

const (
	StateNoSession               SessionState = "no_session"
	StateOpen                    SessionState = "open"
	StateExitPendingConfirmation SessionState = "exit_pending_confirmation"
	StateClosed                  SessionState = "closed"
)

type EventKind string

const (
	EventEntry         EventKind = "entry"
	EventExitPending   EventKind = "exit_pending"
	EventExitConfirmed EventKind = "exit_confirmed"
)

var ErrInvalidTransition = errors.New("invalid session state transition")

// NextState walks one plate event through the session lifecycle.
//
//	no_session                -> open                      (entry)
//	open | exit_pending       -> exit_pending_confirmation (no payment method)
//	open | exit_pending       -> closed                    (payment method supplied)
//	closed                    -> error
//
// Only the transition into closed touches storage; exit_pending_confirmation is a
// view over an open row.
func NextState(from SessionState, hasPaymentMethod bool) (SessionState, EventKind, error) {
	switch from {
	case StateNoSession:
		return StateOpen, EventEntry, nil
	case StateOpen, StateExitPendingConfirmation:
		if hasPaymentMethod {
			return StateClosed, EventExitConfirmed, nil
		}
		return StateExitPendingConfirmation, EventExitPending, nil
	default:
		return from, "", fmt.Errorf("%w: from %q", ErrInvalidTransition, from)
	}
}

// EventResult is what a registered plate event resolves to.
type EventResult struct {
	Kind          EventKind       `json:"kind"`
	State         SessionState    `json:"state"`
	Session       *ParkingSession `json:"session"`
	Minutes       int64           `json:"minutes"`
	BilledMinutes int64           `json:"billed_minutes"`
	Amount        int64           `json:"amount"`
}
