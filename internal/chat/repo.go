package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// EnsureUser creates the user on first sight, otherwise returns the existing row.
func (r *Repo) EnsureUser(ctx context.Context, userID, name string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	u = User{UserID: userID, Name: name}
	if err := r.db.WithContext(ctx).Create(&u).Error; err != nil {
		// lost a concurrent create; the row exists now
		var existing User
		if gerr := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; gerr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// TouchSession bumps the message counter and updated_at in one atomic UPDATE.
func (r *Repo) TouchSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"message_count": gorm.Expr("message_count + 1"),
			"updated_at":    time.Now(),
		}).Error
}

// ListSessionsByUser returns sessions newest-activity first.
func (r *Repo) ListSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessagesBySession returns the full transcript oldest first.
func (r *Repo) ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages of a session,
// newest first, for building provider context.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessagesWindow returns messages created in [from, to), optionally
// filtered by user. Zero bounds are open.
func (r *Repo) ListMessagesWindow(ctx context.Context, userID string, from, to time.Time) ([]Message, error) {
	q := r.db.WithContext(ctx).Model(&Message{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}

	var msgs []Message
	if err := q.Order("created_at ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountSessionsWindow counts sessions created in [from, to), optionally by user.
func (r *Repo) CountSessionsWindow(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	q := r.db.WithContext(ctx).Model(&Session{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// GetOrCreateSuggestions resolves each candidate text to its canonical
// Suggestion row, creating missing ones with zeroed counters. Calling it twice
// with the same text yields the same row; the unique index on text backs this
// up under concurrency.
func (r *Repo) GetOrCreateSuggestions(ctx context.Context, texts []string) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(texts))
	for _, text := range texts {
		var s Suggestion
		err := r.db.WithContext(ctx).Where("text = ?", text).First(&s).Error
		if err == nil {
			out = append(out, s)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		s = Suggestion{Text: text}
		if cerr := r.db.WithContext(ctx).Create(&s).Error; cerr != nil {
			// unique-index race: another writer created it first
			if gerr := r.db.WithContext(ctx).Where("text = ?", text).First(&s).Error; gerr != nil {
				return nil, cerr
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Repo) ListSuggestionsByTexts(ctx context.Context, texts []string) ([]Suggestion, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out []Suggestion
	if err := r.db.WithContext(ctx).
		Where("text IN ?", texts).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) ListAllSuggestions(ctx context.Context) ([]Suggestion, error) {
	var out []Suggestion
	if err := r.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetSuggestionByID(ctx context.Context, id uint64) (*Suggestion, error) {
	var s Suggestion
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// AddSuggestionRating applies one rating as atomic increments, then derives
// avg_rating in SQL from the stored totals. Two independent raters never lose
// updates regardless of interleaving.
func (r *Repo) AddSuggestionRating(ctx context.Context, id uint64, rating int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Suggestion{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"total_rating": gorm.Expr("total_rating + ?", rating),
				"rating_count": gorm.Expr("rating_count + 1"),
				"updated_at":   time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&Suggestion{}).
			Where("id = ? AND rating_count > 0", id).
			Update("avg_rating", gorm.Expr("total_rating * 1.0 / rating_count")).Error
	})
}

// IncrementSuggestionClick bumps the click counter atomically.
func (r *Repo) IncrementSuggestionClick(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Model(&Suggestion{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"click_count": gorm.Expr("click_count + 1"),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
