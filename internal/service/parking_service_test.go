package service

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"parking_ledger/internal/domain"
	"parking_ledger/internal/lock"
	"parking_ledger/internal/repository"
	"parking_ledger/internal/repository/memory"
	"parking_ledger/internal/tariff"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.EventKind
}

func (n *recordingNotifier) PublishSessionEvent(result *domain.EventResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, result.Kind)
}

type fixture struct {
	svc      *ParkingService
	repo     repository.ParkingSessionRepository
	notifier *recordingNotifier
	locker   *lock.LocalLocker
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, memory.NewParkingSessionRepository())
}

func newFixtureWithRepo(t *testing.T, repo repository.ParkingSessionRepository) *fixture {
	t.Helper()
	f := &fixture{repo: repo, notifier: &recordingNotifier{}, locker: lock.NewLocalLocker()}
	clock := t0
	f.clock = &clock
	f.svc = NewParkingService(repo, tariff.Default(), f.locker, f.notifier, time.UTC, zap.NewNop())
	f.svc.now = func() time.Time { return *f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) register(t *testing.T, plate, method string) *domain.EventResult {
	t.Helper()
	res, err := f.svc.RegisterEvent(context.Background(), RegisterEventInput{Plate: plate, PaymentMethod: method})
	require.NoError(t, err)
	return res
}

func TestRegisterEvent_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.register(t, "ab 12 34", "")
	assert.Equal(t, domain.EventEntry, entry.Kind)
	assert.Equal(t, domain.StateOpen, entry.State)
	assert.Equal(t, "AB1234", entry.Session.Plate)
	assert.Equal(t, t0, entry.Session.EntryTime)

	f.advance(16 * time.Minute)
	pending := f.register(t, "AB1234", "")
	assert.Equal(t, domain.EventExitPending, pending.Kind)
	assert.Equal(t, domain.StateExitPendingConfirmation, pending.State)
	assert.Equal(t, int64(16), pending.Minutes)
	assert.Equal(t, int64(520), pending.Amount)

	stored, err := f.repo.FindByID(ctx, entry.Session.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
	assert.False(t, stored.Amount.Valid)

	confirmed := f.register(t, "AB1234", " efectivo ")
	assert.Equal(t, domain.EventExitConfirmed, confirmed.Kind)
	assert.Equal(t, domain.StateClosed, confirmed.State)
	assert.Equal(t, int64(520), confirmed.Amount)
	assert.Equal(t, entry.Session.ID, confirmed.Session.ID)

	stored, err = f.repo.FindByID(ctx, entry.Session.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())
	assert.Equal(t, t0.Add(16*time.Minute), stored.ExitTime.Time)
	assert.Equal(t, int64(520), stored.Amount.Int64)
	assert.Equal(t, "efectivo", stored.PaymentMethod.String)

	f.advance(time.Minute)
	again := f.register(t, "AB1234", "")
	assert.Equal(t, domain.EventEntry, again.Kind)
	assert.NotEqual(t, entry.Session.ID, again.Session.ID)

	assert.Equal(t, []domain.EventKind{domain.EventEntry, domain.EventExitConfirmed, domain.EventEntry}, f.notifier.events)
}

func TestRegisterEvent_PendingIsRepeatable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "AB1234", "")

	f.advance(10 * time.Minute)
	first := f.register(t, "AB1234", "")
	f.advance(20 * time.Minute)
	second := f.register(t, "AB1234", "")

	assert.Equal(t, domain.EventExitPending, first.Kind)
	assert.Equal(t, int64(500), first.Amount)
	assert.Equal(t, domain.EventExitPending, second.Kind)
	assert.Equal(t, int64(30), second.Minutes)
	assert.Equal(t, int64(860), second.Amount)
}

func TestRegisterEvent_EntryIgnoresPaymentMethod(t *testing.T) {
	f := newFixture(t)

	res := f.register(t, "AB1234", "tarjeta")

	assert.Equal(t, domain.EventEntry, res.Kind)
	assert.False(t, res.Session.PaymentMethod.Valid)
	assert.True(t, res.Session.IsOpen())
}

func TestRegisterEvent_ShortStayCostsBase(t *testing.T) {
	f := newFixture(t)
	f.register(t, "AB1234", "")

	f.advance(15*time.Minute + 59*time.Second)
	res := f.register(t, "AB1234", "efectivo")

	assert.Equal(t, int64(15), res.Minutes)
	assert.Equal(t, int64(500), res.Amount)
}

func TestRegisterEvent_ClockSkewClampsToZero(t *testing.T) {
	f := newFixture(t)
	f.register(t, "AB1234", "")

	earlier := t0.Add(-5 * time.Minute)
	res, err := f.svc.RegisterEvent(context.Background(), RegisterEventInput{
		Plate:         "AB1234",
		PaymentMethod: "efectivo",
		OccurredAt:    &earlier,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.Minutes)
	assert.Equal(t, int64(500), res.Amount)
}

func TestRegisterEvent_OccurredAtIsTruncated(t *testing.T) {
	f := newFixture(t)
	at := t0.Add(1500 * time.Millisecond)

	res, err := f.svc.RegisterEvent(context.Background(), RegisterEventInput{Plate: "AB1234", OccurredAt: &at})
	require.NoError(t, err)

	assert.Equal(t, t0.Add(time.Second), res.Session.EntryTime)
}

func TestRegisterEvent_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		plate  string
		method string
		want   error
	}{
		{"empty plate", "   ", "", ErrInvalidPlate},
		{"symbols", "AB#123", "", ErrInvalidPlate},
		{"too long", "ABCDEFGHIJKLM", "", ErrInvalidPlate},
		{"long method", "AB1234", "a-payment-method-name-that-goes-on-and-on", ErrInvalidPaymentMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.RegisterEvent(context.Background(), RegisterEventInput{Plate: tt.plate, PaymentMethod: tt.method})
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.notifier.events)
		})
	}
}

func TestRegisterEvent_ConcurrentSamePlate(t *testing.T) {
	f := newFixture(t)

	const workers = 20
	results := make(chan domain.EventKind, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.RegisterEvent(context.Background(), RegisterEventInput{Plate: "AB1234"})
			if assert.NoError(t, err) {
				results <- res.Kind
			}
		}()
	}
	wg.Wait()
	close(results)

	entries := 0
	for kind := range results {
		if kind == domain.EventEntry {
			entries++
		}
	}
	assert.Equal(t, 1, entries)

	ledger, err := f.svc.DailyLedger(context.Background(), "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, ledger.Open, 1)
}

type failingRepo struct {
	repository.ParkingSessionRepository
	findErr  error
	closeErr error
}

func (r *failingRepo) FindOpenByPlate(ctx context.Context, plate string) (*domain.ParkingSession, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.ParkingSessionRepository.FindOpenByPlate(ctx, plate)
}

func (r *failingRepo) Close(ctx context.Context, id int, exitTime time.Time, amount int64, paymentMethod string) error {
	if r.closeErr != nil {
		return r.closeErr
	}
	return r.ParkingSessionRepository.Close(ctx, id, exitTime, amount, paymentMethod)
}

func (r *failingRepo) WithinTx(ctx context.Context, fn func(repo repository.ParkingSessionRepository) error) error {
	return fn(r)
}

func TestRegisterEvent_StorageUnavailable(t *testing.T) {
	repo := &failingRepo{ParkingSessionRepository: memory.NewParkingSessionRepository(), findErr: errors.New("connection refused")}
	f := newFixtureWithRepo(t, repo)

	_, err := f.svc.RegisterEvent(context.Background(), RegisterEventInput{Plate: "AB1234"})

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, f.notifier.events)
}

func TestRegisterEvent_ConsistencyFault(t *testing.T) {
	repo := &failingRepo{ParkingSessionRepository: memory.NewParkingSessionRepository()}
	f := newFixtureWithRepo(t, repo)
	f.register(t, "AB1234", "")

	repo.closeErr = repository.ErrNoActiveSession
	_, err := f.svc.RegisterEvent(context.Background(), RegisterEventInput{Plate: "AB1234", PaymentMethod: "efectivo"})

	assert.ErrorIs(t, err, ErrConsistencyFault)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
}

func TestQuoteExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.QuoteExit(ctx, "AB1234")
	assert.ErrorIs(t, err, repository.ErrNoActiveSession)

	entry := f.register(t, "AB1234", "")
	f.advance(45 * time.Minute)

	quote, err := f.svc.QuoteExit(ctx, "ab1234")
	require.NoError(t, err)
	assert.Equal(t, domain.EventExitPending, quote.Kind)
	assert.Equal(t, int64(1220), quote.Amount)

	stored, err := f.repo.FindByID(ctx, entry.Session.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
}

func TestDailyLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "AA1111", "")
	f.advance(time.Minute)
	f.register(t, "BB2222", "")
	f.advance(time.Minute)
	f.register(t, "CC3333", "")
	f.advance(30 * time.Minute)
	f.register(t, "AA1111", "efectivo")
	f.advance(time.Minute)
	f.register(t, "BB2222", "tarjeta")

	ledger, err := f.svc.DailyLedger(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, "2025-03-10", ledger.Date)
	require.Len(t, ledger.Open, 1)
	assert.Equal(t, "CC3333", ledger.Open[0].Plate)
	require.NotNil(t, ledger.LatestClosed)
	assert.Equal(t, "BB2222", ledger.LatestClosed.Plate)
	require.Len(t, ledger.Closed, 1)
	assert.Equal(t, "AA1111", ledger.Closed[0].Plate)
	assert.Equal(t, ledger.Totals["efectivo"]+ledger.Totals["tarjeta"], ledger.GrandTotal)

	empty, err := f.svc.DailyLedger(ctx, "2025-03-11")
	require.NoError(t, err)
	assert.Empty(t, empty.Rows())

	_, err = f.svc.DailyLedger(ctx, "10/03/2025")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestDailyLedger_UsesLotTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	f := newFixture(t)
	f.svc.loc = loc
	// 01:30 UTC on the 11th is still the 10th in Santiago.
	*f.clock = time.Date(2025, 3, 11, 1, 30, 0, 0, time.UTC)
	f.register(t, "AB1234", "")

	ledger, err := f.svc.DailyLedger(context.Background(), "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, ledger.Open, 1)
	assert.Equal(t, "2025-03-10", f.svc.Today())
}

func TestExportDailyLedger(t *testing.T) {
	f := newFixture(t)
	f.register(t, "AB1234", "")

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportDailyLedger(context.Background(), "2025-03-10", &buf))
	assert.NotZero(t, buf.Len())

	err := f.svc.ExportDailyLedger(context.Background(), "yesterday", &buf)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestUpdateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.register(t, "AB1234", "")

	exit := t0.Add(time.Hour)
	amount := int64(1500)
	updated, err := f.svc.UpdateSession(ctx, entry.Session.ID, UpdateSessionInput{
		Plate:         "ab1235",
		EntryTime:     t0,
		ExitTime:      &exit,
		Amount:        &amount,
		PaymentMethod: "transferencia",
	})
	require.NoError(t, err)
	assert.Equal(t, "AB1235", updated.Plate)
	assert.Equal(t, exit, updated.ExitTime.Time)
	assert.Equal(t, int64(1500), updated.Amount.Int64)

	got, err := f.svc.GetSession(ctx, entry.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "transferencia", got.PaymentMethod.String)
}

func TestUpdateSession_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.register(t, "AB1234", "")

	before := t0.Add(-time.Minute)
	amount := int64(100)
	negative := int64(-1)
	exit := t0.Add(time.Hour)

	tests := []struct {
		name string
		in   UpdateSessionInput
		want error
	}{
		{"bad plate", UpdateSessionInput{Plate: "!!", EntryTime: t0}, ErrInvalidPlate},
		{"missing entry", UpdateSessionInput{Plate: "AB1234"}, ErrInvalidSession},
		{"exit before entry", UpdateSessionInput{Plate: "AB1234", EntryTime: t0, ExitTime: &before}, ErrInvalidSession},
		{"open with amount", UpdateSessionInput{Plate: "AB1234", EntryTime: t0, Amount: &amount}, ErrInvalidSession},
		{"negative amount", UpdateSessionInput{Plate: "AB1234", EntryTime: t0, ExitTime: &exit, Amount: &negative}, ErrInvalidSession},
		{"closed without amount", UpdateSessionInput{Plate: "AB1234", EntryTime: t0, ExitTime: &exit}, ErrInvalidSession},
		{"closed without amount but with method", UpdateSessionInput{Plate: "AB1234", EntryTime: t0, ExitTime: &exit, PaymentMethod: "efectivo"}, ErrInvalidSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateSession(ctx, entry.Session.ID, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.svc.UpdateSession(ctx, 999, UpdateSessionInput{Plate: "AB1234", EntryTime: t0})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateSession_LocksStoredAndNewPlate(t *testing.T) {
	ctx := context.Background()
	amount := int64(1500)
	exit := t0.Add(time.Hour)
	rename := UpdateSessionInput{Plate: "ZZ9999", EntryTime: t0, ExitTime: &exit, Amount: &amount, PaymentMethod: "efectivo"}

	tests := []struct {
		name   string
		locked string
	}{
		{"stored plate held", "AB1234"},
		{"new plate held", "ZZ9999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.locker.WithWait(20 * time.Millisecond)
			entry := f.register(t, "AB1234", "")

			unlock, err := f.locker.Lock(ctx, tt.locked)
			require.NoError(t, err)

			_, err = f.svc.UpdateSession(ctx, entry.Session.ID, rename)
			assert.ErrorIs(t, err, lock.ErrLockTimeout)

			got, err := f.svc.GetSession(ctx, entry.Session.ID)
			require.NoError(t, err)
			assert.Equal(t, "AB1234", got.Plate)
			assert.False(t, got.ExitTime.Valid)

			unlock()
			updated, err := f.svc.UpdateSession(ctx, entry.Session.ID, rename)
			require.NoError(t, err)
			assert.Equal(t, "ZZ9999", updated.Plate)
		})
	}
}

func TestUpdateSession_SamePlateLocksOnce(t *testing.T) {
	f := newFixture(t)
	f.locker.WithWait(20 * time.Millisecond)
	entry := f.register(t, "AB1234", "")

	amount := int64(800)
	exit := t0.Add(30 * time.Minute)
	updated, err := f.svc.UpdateSession(context.Background(), entry.Session.ID, UpdateSessionInput{
		Plate:         "ab1234",
		EntryTime:     t0,
		ExitTime:      &exit,
		Amount:        &amount,
		PaymentMethod: "efectivo",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(800), updated.Amount.Int64)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.register(t, "AB1234", "")

	require.NoError(t, f.svc.DeleteSession(ctx, entry.Session.ID))

	_, err := f.svc.GetSession(ctx, entry.Session.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteSession(ctx, entry.Session.ID), repository.ErrNotFound)

	next := f.register(t, "AB1234", "")
	assert.Equal(t, domain.EventEntry, next.Kind)
}

func TestNormalizePlate(t *testing.T) {
	tests := map[string]string{
		"ab1234":     "AB1234",
		" ab 12 34 ": "AB1234",
		"bb-cl-12":   "BB-CL-12",
	}
	for in, want := range tests {
		got, err := NormalizePlate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
}

func TestRegisterEvent_OneOpenSessionPerPlate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plates := []string{"AA1111", "BB2222", "CC3333"}
	methods := []string{"", "", "efectivo", "tarjeta"}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		f.advance(time.Duration(rng.Intn(30)+1) * time.Minute)
		f.register(t, plates[rng.Intn(len(plates))], methods[rng.Intn(len(methods))])

		from, to, err := domain.DayWindow("2025-03-01", time.UTC)
		require.NoError(t, err)
		sessions, err := f.repo.ListByEntryWindow(ctx, from, to.AddDate(0, 1, 0))
		require.NoError(t, err)

		open := map[string]int{}
		for _, s := range sessions {
			if s.IsOpen() {
				open[s.Plate]++
			} else {
				assert.True(t, s.Amount.Valid)
				assert.GreaterOrEqual(t, s.Amount.Int64, int64(500))
			}
		}
		for plate, n := range open {
			require.LessOrEqual(t, n, 1, "plate %s after %d events", plate, i+1)
		}
	}
}
