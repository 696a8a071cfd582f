package sqlite

import (
	"context"
	"errors"
	"fmt"
	"parking_ledger/internal/domain"
	"parking_ledger/internal/repository"
	"strings"
	"time"

	"gopkg.in/guregu/null.v4"
	"gorm.io/gorm"
)

type sessionModel struct {
	ID            int       `gorm:"primaryKey"`
	Plate         string    `gorm:"size:16;not null"`
	EntryTime     time.Time `gorm:"index;not null"`
	ExitTime      *time.Time
	Amount        *int64
	PaymentMethod *string `gorm:"size:32"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (sessionModel) TableName() string { return "parking_sessions" }

func (m *sessionModel) toDomain() domain.ParkingSession {
	s := domain.ParkingSession{
		ID:            m.ID,
		Plate:         m.Plate,
		EntryTime:     m.EntryTime.UTC(),
		PaymentMethod: null.StringFromPtr(m.PaymentMethod),
		Amount:        null.IntFromPtr(m.Amount),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
	if m.ExitTime != nil {
		s.ExitTime = null.TimeFrom(m.ExitTime.UTC())
	}
	return s
}

type gormParkingSessionRepository struct {
	db *gorm.DB
	tx bool
}

func NewGormParkingSessionRepository(db *gorm.DB) repository.ParkingSessionRepository {
	return &gormParkingSessionRepository{db: db}
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *gormParkingSessionRepository) FindOpenByPlate(ctx context.Context, plate string) (*domain.ParkingSession, error) {
	var m sessionModel
	err := r.db.WithContext(ctx).
		Where("plate = ? AND exit_time IS NULL", plate).
		Order("entry_time DESC, id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNoActiveSession
		}
		return nil, fmt.Errorf("ParkingSessionRepository.FindOpenByPlate: %w", err)
	}
	s := m.toDomain()
	return &s, nil
}

func (r *gormParkingSessionRepository) Create(ctx context.Context, plate string, entryTime time.Time) (*domain.ParkingSession, error) {
	m := sessionModel{Plate: plate, EntryTime: entryTime.UTC()}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateEntry, plate)
		}
		return nil, fmt.Errorf("ParkingSessionRepository.Create: %w", err)
	}
	s := m.toDomain()
	return &s, nil
}

func (r *gormParkingSessionRepository) Close(ctx context.Context, id int, exitTime time.Time, amount int64, paymentMethod string) error {
	res := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ? AND exit_time IS NULL", id).
		Updates(map[string]any{
			"exit_time":      exitTime.UTC(),
			"amount":         amount,
			"payment_method": paymentMethod,
		})
	if res.Error != nil {
		return fmt.Errorf("ParkingSessionRepository.Close: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&sessionModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("ParkingSessionRepository.Close (exists): %w", err)
	}
	if count == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrNoActiveSession
}

func (r *gormParkingSessionRepository) findModel(ctx context.Context, id int) (*sessionModel, error) {
	var m sessionModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *gormParkingSessionRepository) FindByID(ctx context.Context, id int) (*domain.ParkingSession, error) {
	m, err := r.findModel(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ParkingSessionRepository.FindByID: %w", err)
	}
	s := m.toDomain()
	return &s, nil
}

func (r *gormParkingSessionRepository) ListByEntryWindow(ctx context.Context, from, to time.Time) ([]domain.ParkingSession, error) {
	var models []sessionModel
	err := r.db.WithContext(ctx).
		Where("entry_time >= ? AND entry_time < ?", from.UTC(), to.UTC()).
		Order("entry_time ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.ListByEntryWindow: %w", err)
	}

	sessions := make([]domain.ParkingSession, 0, len(models))
	for i := range models {
		sessions = append(sessions, models[i].toDomain())
	}
	return sessions, nil
}

func (r *gormParkingSessionRepository) SumAmountsByPaymentMethod(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	var rows []struct {
		PaymentMethod string
		Total         int64
	}
	err := r.db.WithContext(ctx).Model(&sessionModel{}).
		Select("COALESCE(payment_method, '') AS payment_method, SUM(amount) AS total").
		Where("entry_time >= ? AND entry_time < ? AND amount IS NOT NULL", from.UTC(), to.UTC()).
		Group("COALESCE(payment_method, '')").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.SumAmountsByPaymentMethod: %w", err)
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.PaymentMethod] = row.Total
	}
	return totals, nil
}

func (r *gormParkingSessionRepository) Update(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error) {
	m, err := r.findModel(ctx, session.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ParkingSessionRepository.Update: %w", err)
	}

	m.Plate = session.Plate
	m.EntryTime = session.EntryTime.UTC()
	m.ExitTime = nil
	if session.ExitTime.Valid {
		exit := session.ExitTime.Time.UTC()
		m.ExitTime = &exit
	}
	m.Amount = session.Amount.Ptr()
	m.PaymentMethod = session.PaymentMethod.Ptr()

	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateEntry, session.Plate)
		}
		return nil, fmt.Errorf("ParkingSessionRepository.Update: %w", err)
	}
	s := m.toDomain()
	return &s, nil
}

func (r *gormParkingSessionRepository) Delete(ctx context.Context, id int) error {
	res := r.db.WithContext(ctx).Delete(&sessionModel{}, id)
	if res.Error != nil {
		return fmt.Errorf("ParkingSessionRepository.Delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *gormParkingSessionRepository) WithinTx(ctx context.Context, fn func(repo repository.ParkingSessionRepository) error) error {
	if r.tx {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormParkingSessionRepository{db: tx, tx: true})
	})
}
