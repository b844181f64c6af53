package chat

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

type Session struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	UserID       string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Title        string    `gorm:"type:varchar(255)" json:"title"`
	MessageCount int64     `gorm:"not null;default:0" json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `gorm:"index" json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnMetrics is the per-turn latency record captured by the streaming
// pipeline. All fields are nil on user messages. Invariants:
// ttft = first_token_at - request_start_at, total_time = completed_at -
// request_start_at, both in milliseconds.
type TurnMetrics struct {
	RequestStartAt *time.Time `json:"requestStartAt,omitempty"`
	FirstTokenAt   *time.Time `json:"firstTokenAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	TTFTMs         *int64     `gorm:"column:ttft_ms" json:"ttft,omitempty"`
	TotalTimeMs    *int64     `json:"totalTime,omitempty"`
	TokenCount     *int       `json:"tokenCount,omitempty"`
}

// Message is immutable once persisted; there is no update path.
// Suggestions holds the candidate texts shown with an assistant turn; the
// canonical Suggestion rows are resolved by text at read time.
type Message struct {
	ID          uint64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string                      `gorm:"type:varchar(64);not null;index:idx_chat_msg_session_created,priority:1" json:"session_id"`
	UserID      string                      `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Role        string                      `gorm:"type:varchar(16);index;not null" json:"role"`
	Content     string                      `gorm:"type:text;not null" json:"content"`
	Suggestions datatypes.JSONSlice[string] `gorm:"type:json" json:"suggestions,omitempty"`
	CreatedAt   time.Time                   `gorm:"index:idx_chat_msg_session_created,priority:2" json:"created_at"`

	Metrics TurnMetrics `gorm:"embedded;embeddedPrefix:metric_" json:"metrics"`
}

func (Message) TableName() string { return "chat_messages" }

// HasMetrics reports whether this is an assistant turn with a timing record.
func (m *Message) HasMetrics() bool {
	return m.Role == RoleAssistant && m.Metrics.RequestStartAt != nil
}

// Suggestion is the single canonical representation of a follow-up prompt,
// deduplicated globally by text. Rating and click updates are commutative
// monotonic increments. avg_rating = total_rating / rating_count when
// rating_count > 0, else 0.
type Suggestion struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Text        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"text"`
	TotalRating int64     `gorm:"not null;default:0" json:"totalRating"`
	RatingCount int64     `gorm:"not null;default:0" json:"ratingCount"`
	AvgRating   float64   `gorm:"not null;default:0;index" json:"avgRating"`
	ClickCount  int64     `gorm:"not null;default:0;index" json:"clickCount"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Suggestion) TableName() string { return "suggestions" }
