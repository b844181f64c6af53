package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pulsechat/pulsechat/internal/common"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one pending delivery to the analytics collector. Rows are owned
// exclusively by Queue; nothing else mutates them.
type Event struct {
	ID          string            `gorm:"primaryKey;size:36"`
	URL         string            `gorm:"type:varchar(512);not null"`
	Method      string            `gorm:"type:varchar(8);not null"`
	Body        datatypes.JSON    `gorm:"type:json"`
	Headers     datatypes.JSONMap `gorm:"type:json"`
	EnqueuedAt  time.Time         `gorm:"not null"`
	RetryCount  int               `gorm:"not null"`
	NextRetryAt time.Time         `gorm:"index;not null"`
}

func (Event) TableName() string { return "outbox_events" }

// Queue persists outbound telemetry events so they survive process restarts.
// All operations fail closed when the store is unavailable; callers must treat
// delivery as best-effort in that case.
type Queue struct {
	db *gorm.DB
}

func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue stores an event due immediately and returns its id. Ids are ULIDs
// so insertion order survives in the primary key.
func (q *Queue) Enqueue(ctx context.Context, url, method string, body any, headers map[string]string) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}

	h := make(datatypes.JSONMap, len(headers))
	for k, v := range headers {
		h[k] = v
	}

	now := time.Now()
	ev := &Event{
		ID:          id,
		URL:         url,
		Method:      method,
		Body:        datatypes.JSON(b),
		Headers:     h,
		EnqueuedAt:  now,
		RetryCount:  0,
		NextRetryAt: now,
	}
	if err := q.db.WithContext(ctx).Create(ev).Error; err != nil {
		return "", err
	}
	return ev.ID, nil
}

// Dequeue removes a delivered (or dropped) event.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	return q.db.WithContext(ctx).Delete(&Event{}, "id = ?", id).Error
}

// ListDue returns events whose next_retry_at has passed, oldest-due first.
func (q *Queue) ListDue(ctx context.Context, now time.Time) ([]Event, error) {
	var evs []Event
	if err := q.db.WithContext(ctx).
		Where("next_retry_at <= ?", now).
		Order("next_retry_at ASC").
		Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}

// UpdateRetry records a failed attempt and reschedules the event.
func (q *Queue) UpdateRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	return q.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
		}).Error
}

// Len reports the number of queued events.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.WithContext(ctx).Model(&Event{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
