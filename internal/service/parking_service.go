package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"parking_ledger/internal/domain"
	"parking_ledger/internal/export"
	"parking_ledger/internal/lock"
	"parking_ledger/internal/repository"
	"parking_ledger/internal/tariff"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"
)

var (
	ErrInvalidPlate         = errors.New("invalid plate")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidDate          = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidSession       = errors.New("invalid session data")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	// ErrConsistencyFault means an open session vanished between lookup and close.
	ErrConsistencyFault = errors.New("session consistency fault")
)

// Notifier receives events after they are committed.
type Notifier interface {
	PublishSessionEvent(result *domain.EventResult)
}

type RegisterEventInput struct {
	Plate         string
	PaymentMethod string
	// OccurredAt overrides the service clock when set.
	OccurredAt *time.Time
}

type UpdateSessionInput struct {
	Plate         string
	EntryTime     time.Time
	ExitTime      *time.Time
	Amount        *int64
	PaymentMethod string
}

type ParkingService struct {
	sessionRepo repository.ParkingSessionRepository
	tariff      tariff.Tariff
	locker      lock.Locker
	notifier    Notifier
	loc         *time.Location
	logger      *zap.Logger
	now         func() time.Time
}

func NewParkingService(
	sessionRepo repository.ParkingSessionRepository,
	tr tariff.Tariff,
	locker lock.Locker,
	notifier Notifier,
	loc *time.Location,
	logger *zap.Logger,
) *ParkingService {
	if loc == nil {
		loc = time.UTC
	}
	return &ParkingService{
		sessionRepo: sessionRepo,
		tariff:      tr,
		locker:      locker,
		notifier:    notifier,
		loc:         loc,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *ParkingService) Tariff() tariff.Tariff {
	return s.tariff
}

// Location is the lot's timezone, used for calendar days and displayed times.
func (s *ParkingService) Location() *time.Location {
	return s.loc
}

func (s *ParkingService) eventTime(occurredAt *time.Time) time.Time {
	t := s.now()
	if occurredAt != nil {
		t = *occurredAt
	}
	return t.Truncate(time.Second).UTC()
}

// storageErr passes known sentinels through and marks everything else as a
// storage failure.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrDuplicateEntry),
		errors.Is(err, repository.ErrNoActiveSession),
		errors.Is(err, lock.ErrLockTimeout),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, ErrConsistencyFault):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// RegisterEvent decides whether a plate is entering or leaving. An exit without
// payment method only quotes the fee; with one it closes the session.
func (s *ParkingService) RegisterEvent(ctx context.Context, in RegisterEventInput) (*domain.EventResult, error) {
	plate, err := NormalizePlate(in.Plate)
	if err != nil {
		return nil, err
	}
	method, err := normalizePaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	now := s.eventTime(in.OccurredAt)

	unlock, err := s.locker.Lock(ctx, plate)
	if err != nil {
		return nil, storageErr(err)
	}
	defer unlock()

	var result *domain.EventResult
	err = s.sessionRepo.WithinTx(ctx, func(repo repository.ParkingSessionRepository) error {
		var err error
		result, err = s.resolve(ctx, repo, plate, method, now)
		return err
	})
	if err != nil {
		s.logger.Warn("register event failed", zap.String("plate", plate), zap.Error(err))
		return nil, storageErr(err)
	}

	s.logger.Info("plate event registered",
		zap.String("plate", plate),
		zap.String("kind", string(result.Kind)),
		zap.Int("session_id", result.Session.ID),
		zap.Int64("minutes", result.Minutes),
		zap.Int64("amount", result.Amount),
	)
	if s.notifier != nil && result.Kind != domain.EventExitPending {
		s.notifier.PublishSessionEvent(result)
	}
	return result, nil
}

func (s *ParkingService) resolve(ctx context.Context, repo repository.ParkingSessionRepository, plate, method string, now time.Time) (*domain.EventResult, error) {
	open, err := repo.FindOpenByPlate(ctx, plate)
	if err != nil && !errors.Is(err, repository.ErrNoActiveSession) {
		return nil, err
	}

	next, kind, err := domain.NextState(open.State(), method != "")
	if err != nil {
		return nil, err
	}

	if kind == domain.EventEntry {
		created, err := repo.Create(ctx, plate, now)
		if err != nil {
			return nil, err
		}
		return &domain.EventResult{Kind: kind, State: next, Session: created}, nil
	}

	fee := s.computeFee(open, now)
	result := &domain.EventResult{
		Kind:          kind,
		State:         next,
		Session:       open,
		Minutes:       fee.ElapsedMinutes,
		BilledMinutes: fee.BilledMinutes,
		Amount:        fee.Amount,
	}
	if kind == domain.EventExitPending {
		return result, nil
	}

	if err := repo.Close(ctx, open.ID, now, fee.Amount, method); err != nil {
		if errors.Is(err, repository.ErrNoActiveSession) || errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %d for %s: %w", ErrConsistencyFault, open.ID, plate, err)
		}
		return nil, err
	}
	open.ExitTime = null.TimeFrom(now)
	open.Amount = null.IntFrom(fee.Amount)
	open.PaymentMethod = null.StringFrom(method)
	return result, nil
}

func (s *ParkingService) computeFee(open *domain.ParkingSession, now time.Time) tariff.Fee {
	fee := s.tariff.Compute(open.EntryTime, now)
	if fee.ClockSkew {
		s.logger.Warn("exit time precedes entry time, clamping to zero minutes",
			zap.Int("session_id", open.ID),
			zap.Time("entry_time", open.EntryTime),
			zap.Time("exit_time", now),
		)
	}
	return fee
}

// QuoteExit prices an exit for plate at the current time without touching storage.
func (s *ParkingService) QuoteExit(ctx context.Context, rawPlate string) (*domain.EventResult, error) {
	plate, err := NormalizePlate(rawPlate)
	if err != nil {
		return nil, err
	}
	open, err := s.sessionRepo.FindOpenByPlate(ctx, plate)
	if err != nil {
		return nil, storageErr(err)
	}
	fee := s.computeFee(open, s.eventTime(nil))
	return &domain.EventResult{
		Kind:          domain.EventExitPending,
		State:         domain.StateExitPendingConfirmation,
		Session:       open,
		Minutes:       fee.ElapsedMinutes,
		BilledMinutes: fee.BilledMinutes,
		Amount:        fee.Amount,
	}, nil
}

func (s *ParkingService) GetSession(ctx context.Context, id int) (*domain.ParkingSession, error) {
	session, err := s.sessionRepo.FindByID(ctx, id)
	return session, storageErr(err)
}

// Today returns the current calendar date in the lot's timezone.
func (s *ParkingService) Today() string {
	return s.now().In(s.loc).Format(time.DateOnly)
}

// DailyLedger lists the sessions that entered on date, in operator order, with
// the amounts collected per payment method.
func (s *ParkingService) DailyLedger(ctx context.Context, date string) (*domain.DailyLedger, error) {
	if date == "" {
		date = s.Today()
	}
	from, to, err := domain.DayWindow(date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	sessions, err := s.sessionRepo.ListByEntryWindow(ctx, from, to)
	if err != nil {
		return nil, storageErr(err)
	}
	totals, err := s.sessionRepo.SumAmountsByPaymentMethod(ctx, from, to)
	if err != nil {
		return nil, storageErr(err)
	}
	return domain.BuildDailyLedger(date, sessions, totals), nil
}

func (s *ParkingService) ExportDailyLedger(ctx context.Context, date string, w io.Writer) error {
	ledger, err := s.DailyLedger(ctx, date)
	if err != nil {
		return err
	}
	return export.WriteLedgerXLSX(w, ledger, s.loc)
}

// UpdateSession overwrites a session as an administrative correction.
func (s *ParkingService) UpdateSession(ctx context.Context, id int, in UpdateSessionInput) (*domain.ParkingSession, error) {
	plate, err := NormalizePlate(in.Plate)
	if err != nil {
		return nil, err
	}
	method, err := normalizePaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if in.EntryTime.IsZero() {
		return nil, fmt.Errorf("%w: entry time is required", ErrInvalidSession)
	}
	if in.ExitTime != nil && in.ExitTime.Before(in.EntryTime) {
		return nil, fmt.Errorf("%w: exit time precedes entry time", ErrInvalidSession)
	}
	if in.ExitTime == nil && (in.Amount != nil || method != "") {
		return nil, fmt.Errorf("%w: an open session cannot carry an amount or payment method", ErrInvalidSession)
	}
	if in.ExitTime != nil && in.Amount == nil {
		return nil, fmt.Errorf("%w: a closed session needs an amount", ErrInvalidSession)
	}
	if in.Amount != nil && *in.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidSession)
	}

	stored, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	unlock, err := s.lockPlates(ctx, stored.Plate, plate)
	if err != nil {
		return nil, storageErr(err)
	}
	defer unlock()

	var updated *domain.ParkingSession
	err = s.sessionRepo.WithinTx(ctx, func(repo repository.ParkingSessionRepository) error {
		session, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		session.Plate = plate
		session.EntryTime = in.EntryTime.Truncate(time.Second).UTC()
		session.ExitTime = null.Time{}
		if in.ExitTime != nil {
			session.ExitTime = null.TimeFrom(in.ExitTime.Truncate(time.Second).UTC())
		}
		session.Amount = null.IntFromPtr(in.Amount)
		session.PaymentMethod = null.NewString(method, method != "")

		updated, err = repo.Update(ctx, session)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.logger.Info("session updated by operator", zap.Int("session_id", id), zap.String("plate", plate))
	return updated, nil
}

// lockPlates takes every distinct plate lock in sorted order so two renames
// crossing the same plates cannot deadlock.
func (s *ParkingService) lockPlates(ctx context.Context, plates ...string) (func(), error) {
	keys := slices.Compact(slices.Sorted(slices.Values(plates)))
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := s.locker.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func (s *ParkingService) DeleteSession(ctx context.Context, id int) error {
	if err := s.sessionRepo.Delete(ctx, id); err != nil {
		return storageErr(err)
	}
	s.logger.Info("session deleted by operator", zap.Int("session_id", id))
	return nil
}
