package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps keys in the idempotency_keys table next to the Postgres repositories.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

type keyRow struct {
	ID              string              `gorm:"primaryKey;size:64"`
	Key             string              `gorm:"not null"`
	Fingerprint     string              `gorm:"not null"`
	Status          string              `gorm:"not null"`
	ResponseStatus  int
	ResponseHeaders map[string][]string `gorm:"serializer:json"`
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time `gorm:"index;not null"`
}

func (keyRow) TableName() string { return "idempotency_keys" }

func rowFromRecord(r Record) keyRow {
	return keyRow{
		ID:              documentID(r.Key),
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r keyRow) record() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		ExpiresAt:       r.ExpiresAt.UTC(),
	}
}

// Migrate creates the table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&keyRow{})
}

// Reserve implements Store. The row lock makes a second caller wait for the
// first to commit, after which it sees the pending record.
func (s *GormStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	var result Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh := pendingRecord(key, fingerprint, now, ttl)
		row := rowFromRecord(fresh)
		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 1 {
			result = Reservation{State: ReservationStateNew, Record: fresh}
			return nil
		}

		var existing keyRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "id = ?", row.ID).Error; err != nil {
			return err
		}
		if record := existing.record(); !record.expired(now) {
			var err error
			result, err = reservationFor(record, fingerprint)
			return err
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: fresh}
		return nil
	})
	return result, err
}

// SaveResponse implements Store.
func (s *GormStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := Record{Key: key, Fingerprint: fingerprint}
		var existing keyRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, "id = ?", documentID(key)).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case existing.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		default:
			record = existing.record()
		}
		row := rowFromRecord(completeRecord(record, resp, now, ttl))
		return tx.Save(&row).Error
	})
}

// Release implements Store.
func (s *GormStore) Release(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&keyRow{}, "id = ?", documentID(key)).Error
}

// CleanupExpired implements Store.
func (s *GormStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	expired := s.db.Model(&keyRow{}).Select("id").Where("expires_at <= ?", now.UTC()).Limit(limit)
	res := s.db.WithContext(ctx).Where("id IN (?)", expired).Delete(&keyRow{})
	return int(res.RowsAffected), res.Error
}
