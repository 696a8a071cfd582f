// Package memory keeps parking sessions in process memory. It enforces the same
// constraints as the SQL stores and is meant for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"parking_ledger/internal/domain"
	"parking_ledger/internal/repository"
	"sort"
	"sync"
	"time"

	"gopkg.in/guregu/null.v4"
)

type store struct {
	nextID   int
	sessions map[int]domain.ParkingSession
	now      func() time.Time
}

func (st *store) snapshot() *store {
	cp := &store{nextID: st.nextID, sessions: make(map[int]domain.ParkingSession, len(st.sessions)), now: st.now}
	for id, s := range st.sessions {
		cp.sessions[id] = s
	}
	return cp
}

// Repository guards a store with a mutex; txRepository runs with the lock held.
type Repository struct {
	mu sync.Mutex
	st *store
}

func NewParkingSessionRepository() *Repository {
	return &Repository{st: &store{nextID: 1, sessions: map[int]domain.ParkingSession{}, now: time.Now}}
}

var _ repository.ParkingSessionRepository = (*Repository)(nil)

func (r *Repository) locked(fn func(tx *txRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&txRepository{st: r.st})
}

func (r *Repository) FindOpenByPlate(ctx context.Context, plate string) (s *domain.ParkingSession, err error) {
	err = r.locked(func(tx *txRepository) error {
		s, err = tx.FindOpenByPlate(ctx, plate)
		return err
	})
	return s, err
}

func (r *Repository) Create(ctx context.Context, plate string, entryTime time.Time) (s *domain.ParkingSession, err error) {
	err = r.locked(func(tx *txRepository) error {
		s, err = tx.Create(ctx, plate, entryTime)
		return err
	})
	return s, err
}

func (r *Repository) Close(ctx context.Context, id int, exitTime time.Time, amount int64, paymentMethod string) error {
	return r.locked(func(tx *txRepository) error {
		return tx.Close(ctx, id, exitTime, amount, paymentMethod)
	})
}

func (r *Repository) FindByID(ctx context.Context, id int) (s *domain.ParkingSession, err error) {
	err = r.locked(func(tx *txRepository) error {
		s, err = tx.FindByID(ctx, id)
		return err
	})
	return s, err
}

func (r *Repository) ListByEntryWindow(ctx context.Context, from, to time.Time) (out []domain.ParkingSession, err error) {
	err = r.locked(func(tx *txRepository) error {
		out, err = tx.ListByEntryWindow(ctx, from, to)
		return err
	})
	return out, err
}

func (r *Repository) SumAmountsByPaymentMethod(ctx context.Context, from, to time.Time) (out map[string]int64, err error) {
	err = r.locked(func(tx *txRepository) error {
		out, err = tx.SumAmountsByPaymentMethod(ctx, from, to)
		return err
	})
	return out, err
}

func (r *Repository) Update(ctx context.Context, session *domain.ParkingSession) (s *domain.ParkingSession, err error) {
	err = r.locked(func(tx *txRepository) error {
		s, err = tx.Update(ctx, session)
		return err
	})
	return s, err
}

func (r *Repository) Delete(ctx context.Context, id int) error {
	return r.locked(func(tx *txRepository) error {
		return tx.Delete(ctx, id)
	})
}

// WithinTx holds the store lock for the whole of fn and restores the previous
// state when fn fails.
func (r *Repository) WithinTx(ctx context.Context, fn func(repo repository.ParkingSessionRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	backup := r.st.snapshot()
	if err := fn(&txRepository{st: r.st}); err != nil {
		r.st = backup
		return err
	}
	return nil
}

type txRepository struct {
	st *store
}

func (t *txRepository) FindOpenByPlate(_ context.Context, plate string) (*domain.ParkingSession, error) {
	var found *domain.ParkingSession
	for _, s := range t.st.sessions {
		if s.Plate != plate || !s.IsOpen() {
			continue
		}
		if found == nil || s.EntryTime.After(found.EntryTime) || (s.EntryTime.Equal(found.EntryTime) && s.ID > found.ID) {
			cp := s
			found = &cp
		}
	}
	if found == nil {
		return nil, repository.ErrNoActiveSession
	}
	return found, nil
}

func (t *txRepository) hasOtherOpen(plate string, id int) bool {
	for _, s := range t.st.sessions {
		if s.ID != id && s.Plate == plate && s.IsOpen() {
			return true
		}
	}
	return false
}

func (t *txRepository) Create(_ context.Context, plate string, entryTime time.Time) (*domain.ParkingSession, error) {
	if t.hasOtherOpen(plate, 0) {
		return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateEntry, plate)
	}
	now := t.st.now().UTC()
	s := domain.ParkingSession{
		ID:        t.st.nextID,
		Plate:     plate,
		EntryTime: entryTime.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.st.nextID++
	t.st.sessions[s.ID] = s
	return &s, nil
}

func (t *txRepository) Close(_ context.Context, id int, exitTime time.Time, amount int64, paymentMethod string) error {
	s, ok := t.st.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !s.IsOpen() {
		return repository.ErrNoActiveSession
	}
	s.ExitTime = null.TimeFrom(exitTime.UTC())
	s.Amount = null.IntFrom(amount)
	s.PaymentMethod = null.StringFrom(paymentMethod)
	s.UpdatedAt = t.st.now().UTC()
	t.st.sessions[id] = s
	return nil
}

func (t *txRepository) FindByID(_ context.Context, id int) (*domain.ParkingSession, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (t *txRepository) ListByEntryWindow(_ context.Context, from, to time.Time) ([]domain.ParkingSession, error) {
	out := []domain.ParkingSession{}
	for _, s := range t.st.sessions {
		if !s.EntryTime.Before(from) && s.EntryTime.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *txRepository) SumAmountsByPaymentMethod(_ context.Context, from, to time.Time) (map[string]int64, error) {
	totals := make(map[string]int64)
	for _, s := range t.st.sessions {
		if s.EntryTime.Before(from) || !s.EntryTime.Before(to) || !s.Amount.Valid {
			continue
		}
		totals[s.PaymentMethod.String] += s.Amount.Int64
	}
	return totals, nil
}

func (t *txRepository) Update(_ context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error) {
	existing, ok := t.st.sessions[session.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !session.ExitTime.Valid && t.hasOtherOpen(session.Plate, session.ID) {
		return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateEntry, session.Plate)
	}
	updated := *session
	updated.EntryTime = updated.EntryTime.UTC()
	if updated.ExitTime.Valid {
		updated.ExitTime = null.TimeFrom(updated.ExitTime.Time.UTC())
	}
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = t.st.now().UTC()
	t.st.sessions[session.ID] = updated
	return &updated, nil
}

func (t *txRepository) Delete(_ context.Context, id int) error {
	if _, ok := t.st.sessions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.st.sessions, id)
	return nil
}

func (t *txRepository) WithinTx(_ context.Context, fn func(repo repository.ParkingSessionRepository) error) error {
	return fn(t)
}
