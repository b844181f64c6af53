// Package vitals stores browser Web Vitals telemetry. Records are append-only.
package vitals

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	MetricLCP  = "LCP"
	MetricINP  = "INP"
	MetricCLS  = "CLS"
	MetricFCP  = "FCP"
	MetricTTFB = "TTFB"
)

const (
	RatingGood             = "good"
	RatingNeedsImprovement = "needs-improvement"
	RatingPoor             = "poor"
)

// ValidMetric reports whether name is one of the tracked Web Vitals.
func ValidMetric(name string) bool {
	switch name {
	case MetricLCP, MetricINP, MetricCLS, MetricFCP, MetricTTFB:
		return true
	}
	return false
}

// ValidRating reports whether r is one of the web-vitals rating buckets.
func ValidRating(r string) bool {
	switch r {
	case RatingGood, RatingNeedsImprovement, RatingPoor:
		return true
	}
	return false
}

// Vital is one reported measurement. Value is milliseconds for timing
// metrics and unitless for CLS.
type Vital struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	UserID    string    `gorm:"type:varchar(64);index:idx_vitals_user_metric_ts,priority:1;not null" json:"user_id"`
	Metric    string    `gorm:"type:varchar(8);index:idx_vitals_user_metric_ts,priority:2;not null" json:"metric"`
	Value     float64   `gorm:"not null" json:"value"`
	Rating    string    `gorm:"type:varchar(20);not null" json:"rating"`
	Timestamp time.Time `gorm:"index:idx_vitals_user_metric_ts,priority:3;not null" json:"timestamp"`
	PageURL   string    `gorm:"type:varchar(512)" json:"page_url"`
	UserAgent *string   `gorm:"type:varchar(512)" json:"user_agent,omitempty"`
	Device    *string   `gorm:"type:varchar(16)" json:"device,omitempty"`
}

func (Vital) TableName() string { return "web_vitals" }

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Insert(ctx context.Context, v *Vital) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// ListWindow returns vitals with timestamp in [from, to), optionally filtered
// by user, in chronological order.
func (r *Repo) ListWindow(ctx context.Context, userID string, from, to time.Time) ([]Vital, error) {
	q := r.db.WithContext(ctx).Model(&Vital{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("timestamp < ?", to)
	}

	var out []Vital
	if err := q.Order("timestamp ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
