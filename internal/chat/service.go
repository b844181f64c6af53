package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pulsechat/pulsechat/internal/llm"
	"github.com/pulsechat/pulsechat/internal/outbox"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const sessionTitleMax = 50

// TurnTelemetry is the record forwarded to the analytics collector after each
// completed assistant turn.
type TurnTelemetry struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	TTFTMs      int64     `json:"ttft"`
	TotalTimeMs int64     `json:"totalTime"`
	TokenCount  int       `json:"tokenCount"`
	CompletedAt time.Time `json:"completedAt"`
}

// Service runs the streaming response pipeline: it consumes provider
// fragments, timestamps first-fragment and completion, assembles the reply,
// persists the turn and emits a structured event sequence to the caller.
type Service struct {
	repo     *Repo
	registry *llm.Registry
	suggest  llm.SuggestionSource

	providerName string
	model        string

	contextWindowSize int

	// telemetry export; both optional
	dispatcher   *outbox.Dispatcher
	collectorURL string

	log *slog.Logger
}

func NewService(repo *Repo, registry *llm.Registry, suggest llm.SuggestionSource, providerName, model string, contextWindowSize int, log *slog.Logger) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:              repo,
		registry:          registry,
		suggest:           suggest,
		providerName:      providerName,
		model:             model,
		contextWindowSize: contextWindowSize,
		log:               log,
	}
}

// SetTelemetryExport wires the outbox dispatcher used to forward per-turn
// telemetry. Export is skipped when unset.
func (s *Service) SetTelemetryExport(d *outbox.Dispatcher, collectorURL string) {
	s.dispatcher = d
	s.collectorURL = collectorURL
}

// SendPrompt starts a stream for one prompt and returns its push channel.
// The channel carries zero or more token events followed by exactly one done
// or error event, then closes. Cancelling ctx aborts the stream: partial text
// is discarded, nothing is persisted and the channel closes without a
// terminal event. Single-flight per session is the caller's discipline.
func (s *Service) SendPrompt(ctx context.Context, sessionID, userID, prompt string) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		s.run(ctx, events, sessionID, userID, prompt)
	}()

	return events
}

func (s *Service) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) run(ctx context.Context, events chan<- Event, sessionID, userID, prompt string) {
	ss := &streamSession{
		state:     StateRequesting,
		prompt:    prompt,
		startedAt: time.Now(),
	}

	if _, err := s.repo.EnsureUser(ctx, userID, userID); err != nil {
		s.emit(ctx, events, errorEvent(err))
		return
	}

	if _, err := s.repo.GetSessionBySessionID(ctx, sessionID); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.emit(ctx, events, errorEvent(err))
			return
		}
		title := prompt
		if len(title) > sessionTitleMax {
			title = title[:sessionTitleMax]
		}
		if cerr := s.repo.CreateSession(ctx, &Session{
			SessionID: sessionID,
			UserID:    userID,
			Title:     title,
		}); cerr != nil {
			s.emit(ctx, events, errorEvent(cerr))
			return
		}
	}

	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      RoleUser,
		Content:   prompt,
	}); err != nil {
		s.emit(ctx, events, errorEvent(err))
		return
	}
	if err := s.repo.TouchSession(ctx, sessionID); err != nil {
		s.log.Warn("touch session failed", "session_id", sessionID, "error", err)
	}

	history, err := s.providerHistory(ctx, sessionID)
	if err != nil {
		s.emit(ctx, events, errorEvent(err))
		return
	}

	provider, err := s.registry.Get(ctx, s.providerName, s.model)
	if err != nil {
		s.emit(ctx, events, errorEvent(err))
		return
	}
	sp, ok := provider.(llm.StreamProvider)
	if !ok {
		s.emit(ctx, events, errorEvent(fmt.Errorf("provider %q does not support streaming", s.providerName)))
		return
	}

	chunks, errs := sp.StreamChat(ctx, history)

	var full strings.Builder
	var ttft int64

	for chunk := range chunks {
		if ss.firstFragmentAt == nil {
			now := time.Now()
			ss.firstFragmentAt = &now
			ss.state = StateStreaming
			ttft = now.Sub(ss.startedAt).Milliseconds()
			s.log.Debug("first token", "session_id", sessionID, "ttft_ms", ttft)
		}
		ss.fragmentCount++
		full.WriteString(chunk)

		if !s.emit(ctx, events, tokenEvent(chunk)) {
			ss.state = StateAborted
			return
		}
	}

	// cancellation closes the producer channel too; abort wins over errors
	if ctx.Err() != nil {
		ss.state = StateAborted
		return
	}

	select {
	case perr := <-errs:
		if perr != nil {
			ss.state = StateFailed
			s.emit(ctx, events, errorEvent(fmt.Errorf("%w: %v", ErrProducer, perr)))
			return
		}
	default:
	}

	now := time.Now()
	ss.completedAt = &now
	fullText := full.String()
	totalTime := now.Sub(ss.startedAt).Milliseconds()
	// whitespace word count stands in for true token count
	tokenCount := len(strings.Fields(fullText))

	candidates := s.suggest.Suggest(prompt, history)

	msg := &Message{
		SessionID:   sessionID,
		UserID:      userID,
		Role:        RoleAssistant,
		Content:     fullText,
		Suggestions: datatypes.JSONSlice[string](candidates),
		Metrics: TurnMetrics{
			RequestStartAt: &ss.startedAt,
			FirstTokenAt:   ss.firstFragmentAt,
			CompletedAt:    ss.completedAt,
			TTFTMs:         &ttft,
			TotalTimeMs:    &totalTime,
			TokenCount:     &tokenCount,
		},
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		ss.state = StateFailed
		s.emit(ctx, events, errorEvent(fmt.Errorf("%w: %v", ErrPersistence, err)))
		return
	}
	if err := s.repo.TouchSession(ctx, sessionID); err != nil {
		s.log.Warn("touch session failed", "session_id", sessionID, "error", err)
	}

	resolved, err := s.repo.GetOrCreateSuggestions(ctx, candidates)
	if err != nil {
		ss.state = StateFailed
		s.emit(ctx, events, errorEvent(fmt.Errorf("%w: %v", ErrPersistence, err)))
		return
	}

	ss.state = StateCompleted

	var firstTokenAt time.Time
	if ss.firstFragmentAt != nil {
		firstTokenAt = *ss.firstFragmentAt
	}
	s.emit(ctx, events, Event{
		Type:        EventDone,
		FullText:    fullText,
		Suggestions: resolved,
		Metrics: &StreamMetrics{
			RequestStart: ss.startedAt,
			FirstTokenAt: firstTokenAt,
			CompletedAt:  now,
			TTFTMs:       ttft,
			TotalTimeMs:  totalTime,
		},
	})

	s.exportTurn(ctx, TurnTelemetry{
		SessionID:   sessionID,
		UserID:      userID,
		TTFTMs:      ttft,
		TotalTimeMs: totalTime,
		TokenCount:  tokenCount,
		CompletedAt: now,
	})
}

// providerHistory builds the ascending conversation context from the most
// recent messages.
func (s *Service) providerHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// exportTurn forwards turn telemetry through the outbox. Failures are
// absorbed; delivery errors never reach the chat caller.
func (s *Service) exportTurn(ctx context.Context, t TurnTelemetry) {
	if s.dispatcher == nil || s.collectorURL == "" {
		return
	}
	// outlive the request context; the stream already finished
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := s.dispatcher.SendOrQueue(sendCtx, s.collectorURL+"/events/turn", "POST", t, nil); err != nil {
		s.log.Warn("turn telemetry dropped", "session_id", t.SessionID, "error", err)
	}
}

// ListMessagesWithSuggestions returns a session transcript with assistant
// suggestions resolved to their canonical records.
func (s *Service) ListMessagesWithSuggestions(ctx context.Context, sessionID string) ([]Message, map[string]Suggestion, error) {
	msgs, err := s.repo.ListMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	seen := map[string]struct{}{}
	var texts []string
	for _, m := range msgs {
		if m.Role != RoleAssistant {
			continue
		}
		for _, t := range m.Suggestions {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				texts = append(texts, t)
			}
		}
	}

	resolved, err := s.repo.ListSuggestionsByTexts(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	byText := make(map[string]Suggestion, len(resolved))
	for _, sg := range resolved {
		byText[sg.Text] = sg
	}
	return msgs, byText, nil
}
