// Package repotest holds a conformance suite every ParkingSessionRepository
// implementation runs in its own tests.
package repotest

import (
	"context"
	"errors"
	"parking_ledger/internal/repository"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// TestParkingSessionRepository runs every subtest against a fresh repository.
func TestParkingSessionRepository(t *testing.T, newRepo func(t *testing.T) repository.ParkingSessionRepository) {
	t.Run("CreateAndFindOpen", func(t *testing.T) { testCreateAndFindOpen(t, newRepo(t)) })
	t.Run("OneOpenPerPlate", func(t *testing.T) { testOneOpenPerPlate(t, newRepo(t)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newRepo(t)) })
	t.Run("CloseTwice", func(t *testing.T) { testCloseTwice(t, newRepo(t)) })
	t.Run("CloseMissing", func(t *testing.T) { testCloseMissing(t, newRepo(t)) })
	t.Run("ListByEntryWindow", func(t *testing.T) { testListByEntryWindow(t, newRepo(t)) })
	t.Run("SumAmountsByPaymentMethod", func(t *testing.T) { testSumAmounts(t, newRepo(t)) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, newRepo(t)) })
	t.Run("UpdateReopenConflict", func(t *testing.T) { testUpdateReopenConflict(t, newRepo(t)) })
	t.Run("WithinTxRollback", func(t *testing.T) { testWithinTxRollback(t, newRepo(t)) })
	t.Run("WithinTxCommit", func(t *testing.T) { testWithinTxCommit(t, newRepo(t)) })
}

func testCreateAndFindOpen(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	_, err := repo.FindOpenByPlate(ctx, "AB1234")
	assert.ErrorIs(t, err, repository.ErrNoActiveSession)

	created, err := repo.Create(ctx, "AB1234", base)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.True(t, created.IsOpen())

	found, err := repo.FindOpenByPlate(ctx, "AB1234")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.True(t, base.Equal(found.EntryTime))
	assert.False(t, found.Amount.Valid)
	assert.False(t, found.PaymentMethod.Valid)
}

func testOneOpenPerPlate(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	_, err := repo.Create(ctx, "AB1234", base)
	require.NoError(t, err)

	_, err = repo.Create(ctx, "AB1234", base.Add(time.Minute))
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)

	_, err = repo.Create(ctx, "ZZ9999", base.Add(time.Minute))
	assert.NoError(t, err)
}

func testClose(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	created, err := repo.Create(ctx, "AB1234", base)
	require.NoError(t, err)

	exit := base.Add(45 * time.Minute)
	require.NoError(t, repo.Close(ctx, created.ID, exit, 1220, "efectivo"))

	closed, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	assert.True(t, exit.Equal(closed.ExitTime.Time))
	assert.Equal(t, null.IntFrom(1220), closed.Amount)
	assert.Equal(t, null.StringFrom("efectivo"), closed.PaymentMethod)

	_, err = repo.FindOpenByPlate(ctx, "AB1234")
	assert.ErrorIs(t, err, repository.ErrNoActiveSession)

	// The plate may enter again once its previous visit is closed.
	_, err = repo.Create(ctx, "AB1234", exit.Add(time.Minute))
	assert.NoError(t, err)
}

func testCloseTwice(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	created, err := repo.Create(ctx, "AB1234", base)
	require.NoError(t, err)
	require.NoError(t, repo.Close(ctx, created.ID, base.Add(time.Hour), 1580, "efectivo"))

	err = repo.Close(ctx, created.ID, base.Add(2*time.Hour), 3020, "tarjeta")
	assert.ErrorIs(t, err, repository.ErrNoActiveSession)

	closed, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1580), closed.Amount.Int64)
}

func testCloseMissing(t *testing.T, repo repository.ParkingSessionRepository) {
	err := repo.Close(context.Background(), 4242, base, 500, "efectivo")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.FindByID(context.Background(), 4242)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testListByEntryWindow(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	before, err := repo.Create(ctx, "AA0001", base.Add(-13*time.Hour))
	require.NoError(t, err)
	second, err := repo.Create(ctx, "AA0003", base.Add(2*time.Hour))
	require.NoError(t, err)
	first, err := repo.Create(ctx, "AA0002", base.Add(time.Hour))
	require.NoError(t, err)
	after, err := repo.Create(ctx, "AA0004", base.Add(12*time.Hour))
	require.NoError(t, err)

	from := base.Add(-12 * time.Hour)
	list, err := repo.ListByEntryWindow(ctx, from, from.Add(24*time.Hour))
	require.NoError(t, err)

	var got []int
	for _, s := range list {
		got = append(got, s.ID)
	}
	assert.Equal(t, []int{first.ID, second.ID}, got)
	assert.NotContains(t, got, before.ID)
	assert.NotContains(t, got, after.ID)

	again, err := repo.ListByEntryWindow(ctx, from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, list, again)
}

func testSumAmounts(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	closeAt := func(plate string, offset time.Duration, amount int64, method string) {
		s, err := repo.Create(ctx, plate, base.Add(offset))
		require.NoError(t, err)
		require.NoError(t, repo.Close(ctx, s.ID, base.Add(offset+time.Hour), amount, method))
	}
	closeAt("AA0001", 0, 500, "efectivo")
	closeAt("AA0002", time.Minute, 1220, "efectivo")
	closeAt("AA0003", 2*time.Minute, 520, "tarjeta")
	closeAt("AA0004", -24*time.Hour, 9999, "tarjeta")
	_, err := repo.Create(ctx, "AA0005", base)
	require.NoError(t, err)

	totals, err := repo.SumAmountsByPaymentMethod(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"efectivo": 1720, "tarjeta": 520}, totals)
}

func testUpdateAndDelete(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	created, err := repo.Create(ctx, "AB1234", base)
	require.NoError(t, err)

	edit := *created
	edit.Plate = "AB1235"
	edit.ExitTime = null.TimeFrom(base.Add(20 * time.Minute))
	edit.Amount = null.IntFrom(620)
	edit.PaymentMethod = null.StringFrom("transferencia")

	updated, err := repo.Update(ctx, &edit)
	require.NoError(t, err)
	assert.Equal(t, "AB1235", updated.Plate)
	assert.Equal(t, int64(620), updated.Amount.Int64)

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "transferencia", found.PaymentMethod.String)
	assert.False(t, found.IsOpen())

	missing := edit
	missing.ID = 4242
	_, err = repo.Update(ctx, &missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), repository.ErrNotFound)
}

func testUpdateReopenConflict(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	old, err := repo.Create(ctx, "AB1234", base)
	require.NoError(t, err)
	require.NoError(t, repo.Close(ctx, old.ID, base.Add(time.Hour), 1580, "efectivo"))
	_, err = repo.Create(ctx, "AB1234", base.Add(2*time.Hour))
	require.NoError(t, err)

	reopen, err := repo.FindByID(ctx, old.ID)
	require.NoError(t, err)
	reopen.ExitTime = null.Time{}
	reopen.Amount = null.Int{}
	reopen.PaymentMethod = null.String{}

	_, err = repo.Update(ctx, reopen)
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
}

var errAbort = errors.New("abort")

func testWithinTxRollback(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(tx repository.ParkingSessionRepository) error {
		if _, err := tx.Create(ctx, "AB1234", base); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	_, err = repo.FindOpenByPlate(ctx, "AB1234")
	assert.ErrorIs(t, err, repository.ErrNoActiveSession)
}

func testWithinTxCommit(t *testing.T, repo repository.ParkingSessionRepository) {
	ctx := context.Background()

	created, err := repo.Create(ctx, "AB1234", base)
	require.NoError(t, err)

	err = repo.WithinTx(ctx, func(tx repository.ParkingSessionRepository) error {
		open, err := tx.FindOpenByPlate(ctx, "AB1234")
		if err != nil {
			return err
		}
		return tx.Close(ctx, open.ID, base.Add(16*time.Minute), 520, "tarjeta")
	})
	require.NoError(t, err)

	closed, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(520), closed.Amount.Int64)
}
