package repositories

import (
	"context"
	"time"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, events []models.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	return writeError(r.db.WithContext(ctx).Create(&events).Error, "event already enqueued", "failed to enqueue events")
}

func pendingEvents(db *gorm.DB) *gorm.DB {
	return db.Where("delivered_at IS NULL AND failed_at IS NULL")
}

// ClaimDue leases up to limit due events until now+lease. Rows leased by
// another dispatcher are skipped.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := pendingEvents(tx).
			Where("next_attempt_at <= ?", now).
			Where("locked_until IS NULL OR locked_until < ?", now).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("id ASC").
			Limit(limit).
			Find(&events).Error
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]uint, len(events))
		for i := range events {
			ids[i] = events[i].ID
		}
		until := now.Add(lease)
		for i := range events {
			events[i].LockedUntil = &until
		}
		return tx.Model(&models.OutboxEvent{}).Where("id IN ?", ids).Update("locked_until", until).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to claim events")
	}
	return events, nil
}

func (r *OutboxRepository) MarkDelivered(ctx context.Context, id uint, attempts int, at time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"attempts":     attempts,
		"delivered_at": at,
		"locked_until": nil,
		"last_error":   "",
	})
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"attempts":        attempts,
		"next_attempt_at": next,
		"locked_until":    nil,
		"last_error":      lastErr,
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uint, attempts int, at time.Time, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"attempts":     attempts,
		"failed_at":    at,
		"locked_until": nil,
		"last_error":   lastErr,
	})
}

func (r *OutboxRepository) update(ctx context.Context, id uint, values map[string]interface{}) error {
	if err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(values).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update event")
	}
	return nil
}

// ListEvents returns events for one event key, across sinks.
func (r *OutboxRepository) ListEvents(ctx context.Context, eventKey string) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	if err := r.db.WithContext(ctx).Where("event_key = ?", eventKey).Order("id ASC").Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list events")
	}
	return events, nil
}

// CountPending counts events not yet delivered or failed.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := pendingEvents(r.db.WithContext(ctx).Model(&models.OutboxEvent{})).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count events")
	}
	return count, nil
}
