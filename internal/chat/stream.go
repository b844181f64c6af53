package chat

import (
	"errors"
	"time"
)

// Stream states. A stream moves Idle -> Requesting -> Streaming -> Completed,
// with Aborted on cancellation and Failed on producer or persistence error.
type StreamState int32

const (
	StateIdle StreamState = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateAborted
	StateFailed
)

// Terminal error classes surfaced on the event channel. Producer failures
// discard partial text; persistence failures are reported distinctly because
// the caller has already seen the streamed response.
var (
	ErrProducer    = errors.New("stream producer failed")
	ErrPersistence = errors.New("failed to persist completed response")
)

const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// StreamMetrics is the formatted timing block carried by the done event.
type StreamMetrics struct {
	RequestStart time.Time `json:"requestStart"`
	FirstTokenAt time.Time `json:"firstTokenAt"`
	CompletedAt  time.Time `json:"completedAt"`
	TTFTMs       int64     `json:"ttft"`
	TotalTimeMs  int64     `json:"totalTime"`
}

// Event is one record on the stream's push channel: a token fragment, the
// terminal done payload, or a terminal error.
type Event struct {
	Type        string         `json:"type"`
	Content     string         `json:"content,omitempty"`
	FullText    string         `json:"fullText,omitempty"`
	Suggestions []Suggestion   `json:"suggestions,omitempty"`
	Metrics     *StreamMetrics `json:"metrics,omitempty"`
	Message     string         `json:"message,omitempty"`

	// Err carries the underlying error for error events; not serialized.
	Err error `json:"-"`
}

func tokenEvent(content string) Event {
	return Event{Type: EventToken, Content: content}
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Message: err.Error(), Err: err}
}

// streamSession is the transient per-stream bookkeeping. It is consumed into
// a persisted Message on completion and discarded after.
type streamSession struct {
	state           StreamState
	prompt          string
	startedAt       time.Time
	firstFragmentAt *time.Time
	completedAt     *time.Time
	fragmentCount   int
}
