package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"parking_ledger/internal/domain"
	"parking_ledger/internal/repository"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gopkg.in/guregu/null.v4"
)

const uniqueViolation = "23505"

const sessionColumns = `id, plate, entry_time, exit_time, amount, payment_method, created_at, updated_at`

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgParkingSessionRepository struct {
	db *sql.DB
	q  dbtx
	tx bool
}

func NewPgParkingSessionRepository(db *sql.DB) repository.ParkingSessionRepository {
	return &pgParkingSessionRepository{db: db, q: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ParkingSession, error) {
	session := &domain.ParkingSession{}
	err := row.Scan(
		&session.ID, &session.Plate, &session.EntryTime, &session.ExitTime,
		&session.Amount, &session.PaymentMethod, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	normalizeTimes(session)
	return session, nil
}

func normalizeTimes(session *domain.ParkingSession) {
	session.EntryTime = session.EntryTime.In(time.UTC)
	if session.ExitTime.Valid {
		session.ExitTime.Time = session.ExitTime.Time.In(time.UTC)
	}
	session.CreatedAt = session.CreatedAt.In(time.UTC)
	session.UpdatedAt = session.UpdatedAt.In(time.UTC)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *pgParkingSessionRepository) FindOpenByPlate(ctx context.Context, plate string) (*domain.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + `
	           FROM parking_sessions
	           WHERE plate = $1 AND exit_time IS NULL
	           ORDER BY entry_time DESC, id DESC LIMIT 1`
	if r.tx {
		// Lock the row so a concurrent exit for the same plate waits for this unit of work.
		query += ` FOR UPDATE`
	}

	session, err := scanSession(r.q.QueryRowContext(ctx, query, plate))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNoActiveSession
		}
		return nil, fmt.Errorf("ParkingSessionRepository.FindOpenByPlate: %w", err)
	}
	return session, nil
}

func (r *pgParkingSessionRepository) Create(ctx context.Context, plate string, entryTime time.Time) (*domain.ParkingSession, error) {
	query := `INSERT INTO parking_sessions (plate, entry_time, created_at, updated_at)
	           VALUES ($1, $2, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING ` + sessionColumns

	session, err := scanSession(r.q.QueryRowContext(ctx, query, plate, entryTime.UTC()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateEntry, plate)
		}
		return nil, fmt.Errorf("ParkingSessionRepository.Create: %w", err)
	}
	return session, nil
}

func (r *pgParkingSessionRepository) Close(ctx context.Context, id int, exitTime time.Time, amount int64, paymentMethod string) error {
	query := `UPDATE parking_sessions
	           SET exit_time = $1, amount = $2, payment_method = $3, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $4 AND exit_time IS NULL`

	res, err := r.q.ExecContext(ctx, query, exitTime.UTC(), amount, paymentMethod, id)
	if err != nil {
		return fmt.Errorf("ParkingSessionRepository.Close: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSessionRepository.Close (rows affected): %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	err = r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM parking_sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ParkingSessionRepository.Close (exists): %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrNoActiveSession
}

func (r *pgParkingSessionRepository) FindByID(ctx context.Context, id int) (*domain.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM parking_sessions WHERE id = $1`

	session, err := scanSession(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSessionRepository.FindByID: %w", err)
	}
	return session, nil
}

func (r *pgParkingSessionRepository) ListByEntryWindow(ctx context.Context, from, to time.Time) ([]domain.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + `
	           FROM parking_sessions
	           WHERE entry_time >= $1 AND entry_time < $2
	           ORDER BY entry_time ASC, id ASC`

	rows, err := r.q.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.ListByEntryWindow: %w", err)
	}
	defer rows.Close()

	sessions := []domain.ParkingSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("ParkingSessionRepository.ListByEntryWindow (scanning row): %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.ListByEntryWindow (rows error): %w", err)
	}
	return sessions, nil
}

func (r *pgParkingSessionRepository) SumAmountsByPaymentMethod(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	query := `SELECT COALESCE(payment_method, ''), SUM(amount)
	           FROM parking_sessions
	           WHERE entry_time >= $1 AND entry_time < $2 AND amount IS NOT NULL
	           GROUP BY COALESCE(payment_method, '')`

	rows, err := r.q.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.SumAmountsByPaymentMethod: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var method string
		var total int64
		if err := rows.Scan(&method, &total); err != nil {
			return nil, fmt.Errorf("ParkingSessionRepository.SumAmountsByPaymentMethod (scanning row): %w", err)
		}
		totals[method] = total
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.SumAmountsByPaymentMethod (rows error): %w", err)
	}
	return totals, nil
}

func (r *pgParkingSessionRepository) Update(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error) {
	query := `UPDATE parking_sessions
	           SET plate = $1, entry_time = $2, exit_time = $3, amount = $4, payment_method = $5,
	               updated_at = CURRENT_TIMESTAMP
	           WHERE id = $6
	           RETURNING ` + sessionColumns

	exitTime := session.ExitTime
	if exitTime.Valid {
		exitTime = null.TimeFrom(exitTime.Time.UTC())
	}

	updated, err := scanSession(r.q.QueryRowContext(ctx, query,
		session.Plate, session.EntryTime.UTC(), exitTime, session.Amount, session.PaymentMethod,
		session.ID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateEntry, session.Plate)
		}
		return nil, fmt.Errorf("ParkingSessionRepository.Update: %w", err)
	}
	return updated, nil
}

func (r *pgParkingSessionRepository) Delete(ctx context.Context, id int) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM parking_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ParkingSessionRepository.Delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSessionRepository.Delete (rows affected): %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgParkingSessionRepository) WithinTx(ctx context.Context, fn func(repo repository.ParkingSessionRepository) error) (err error) {
	if r.tx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ParkingSessionRepository.WithinTx (begin): %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pgParkingSessionRepository{db: r.db, q: tx, tx: true}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ParkingSessionRepository.WithinTx (commit): %w", err)
	}
	return nil
}
