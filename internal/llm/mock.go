package llm

import (
	"context"
	"math/rand"
	"strings"
	"time"
	"unicode"
)

// Canned replies keyed by prompt keyword. The "default" entry is the fallback.
var mockReplies = map[string]string{
	"hello":       "Hello! I'm here to help you with any questions or tasks you have. How can I assist you today?",
	"how are you": "I'm functioning well, thank you for asking! I'm ready to help you with whatever you need.",
	"what can you do": "I can help you with a variety of tasks including answering questions, providing explanations, " +
		"helping with problem-solving, writing, and much more. What would you like to explore?",
	"weather": "I don't have access to real-time weather data, but I'd be happy to discuss weather patterns, " +
		"climate, or help you find weather resources!",
	"programming": "I'd be happy to help with programming! I can assist with code explanation, debugging, " +
		"architecture design, best practices, and more. What programming topic interests you?",
	"default": "That's an interesting question. Let me provide you with a thoughtful response. " +
		"Based on what you're asking, I can offer several perspectives and insights that might be helpful.",
}

var genericSuggestions = []string{
	"Tell me more about this",
	"What are the key considerations?",
	"Can you provide an example?",
	"How does this work in practice?",
	"What are common pitfalls?",
	"Explain this in simpler terms",
	"What are the benefits?",
	"What are the trade-offs?",
	"How can I learn more?",
	"What's the next step?",
}

// MockProvider simulates an LLM with canned keyword-matched replies and
// configurable token pacing. It implements Provider, StreamProvider and
// SuggestionSource.
type MockProvider struct {
	// InitialDelay is the pause before the first token (simulated TTFT).
	InitialDelay time.Duration
	// TokenDelay is the base pause between tokens, jittered +-10ms.
	TokenDelay time.Duration
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		InitialDelay: 100 * time.Millisecond,
		TokenDelay:   30 * time.Millisecond,
	}
}

func (p *MockProvider) reply(prompt string) string {
	lower := strings.ToLower(prompt)
	for key, resp := range mockReplies {
		if key != "default" && strings.Contains(lower, key) {
			return resp
		}
	}
	if strings.Contains(lower, "?") {
		head := prompt
		if len(head) > 50 {
			head = head[:50]
		}
		return `That's a great question about "` + head + `...". Let me provide a comprehensive answer. ` +
			mockReplies["default"] + " I hope this helps clarify things!"
	}
	return mockReplies["default"] + " Feel free to ask follow-up questions!"
}

func (p *MockProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	return p.reply(prompt), nil
}

// StreamChat emits the canned reply token by token. Both channels are closed
// when streaming ends; cancellation stops emission promptly.
func (p *MockProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		prompt := ""
		if len(messages) > 0 {
			prompt = messages[len(messages)-1].Content
		}

		if !sleepCtx(ctx, p.InitialDelay) {
			return
		}

		for _, tok := range Tokenize(p.reply(prompt)) {
			select {
			case chunks <- tok:
			case <-ctx.Done():
				return
			}
			jitter := time.Duration(rand.Intn(21)-10) * time.Millisecond
			if !sleepCtx(ctx, p.TokenDelay+jitter) {
				return
			}
		}
	}()

	return chunks, errs
}

// Suggest returns three follow-up candidates: keyword-bucketed when the prompt
// matches, otherwise rotated through the generic list by history length so
// repeated turns see different suggestions.
func (p *MockProvider) Suggest(prompt string, history []Message) []string {
	lower := strings.ToLower(prompt)

	switch {
	case strings.Contains(lower, "hello") || strings.Contains(lower, "hi"):
		return []string{
			"What can you help me with?",
			"Tell me about your capabilities",
			"Let's discuss programming",
		}
	case strings.Contains(lower, "programming") || strings.Contains(lower, "code"):
		return []string{
			"Explain Go best practices",
			"Help me debug an issue",
			"Discuss software architecture",
		}
	case strings.Contains(lower, "weather"):
		return []string{
			"Tell me about climate patterns",
			"What causes rain?",
			"Explain weather forecasting",
		}
	case strings.Contains(lower, "explain") || strings.Contains(lower, "what is"):
		return []string{
			"Can you give me an example?",
			"Tell me more details",
			"How does this apply in practice?",
		}
	case strings.Contains(lower, "how") || strings.Contains(lower, "why") || strings.Contains(lower, "when"):
		return []string{
			"Can you elaborate on that?",
			"What are some examples?",
			"Are there alternatives?",
		}
	}

	start := len(history) % len(genericSuggestions)
	return []string{
		genericSuggestions[start],
		genericSuggestions[(start+3)%len(genericSuggestions)],
		genericSuggestions[(start+6)%len(genericSuggestions)],
	}
}

// Tokenize splits text into streamable fragments: words, whitespace runs and
// punctuation each become their own fragment so the concatenation round-trips.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	var curSpace bool

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !curSpace {
				flush()
				curSpace = true
			}
			cur.WriteRune(r)
		case strings.ContainsRune(".,!?;:", r):
			flush()
			curSpace = false
			tokens = append(tokens, string(r))
		default:
			if curSpace {
				flush()
				curSpace = false
			}
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
