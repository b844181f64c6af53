// Package metrics computes dashboard aggregates over persisted chat and
// telemetry records. Everything here is pure: output depends only on the
// input record set, so tests run on fixture slices.
package metrics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pulsechat/pulsechat/internal/chat"
	"github.com/pulsechat/pulsechat/internal/vitals"
)

const topN = 10

// Input is everything Aggregate needs: messages in the query window, messages
// in the immediately preceding window of equal duration (for trend deltas),
// the session count, the global suggestion set and the vitals in the window.
type Input struct {
	Messages         []chat.Message
	PreviousMessages []chat.Message
	SessionCount     int64
	Suggestions      []chat.Suggestion
	Vitals           []vitals.Vital
}

type Volume struct {
	TotalChats                 int64          `json:"totalChats"`
	TotalMessages              int            `json:"totalMessages"`
	MessagesPerUser            map[string]int `json:"messagesPerUser"`
	SuggestionClickRate        float64        `json:"suggestionClickRate"`
	TotalSuggestionClicks      int64          `json:"totalSuggestionClicks"`
	TotalSuggestionImpressions int            `json:"totalSuggestionImpressions"`
}

type Latency struct {
	AvgTTFT      float64 `json:"avgTtft"`
	P95TTFT      float64 `json:"p95Ttft"`
	AvgTotalTime float64 `json:"avgTotalTime"`
	P95TotalTime float64 `json:"p95TotalTime"`
}

type Size struct {
	AvgWordCount        float64 `json:"avgWordCount"`
	AvgTokenCount       float64 `json:"avgTokenCount"`
	AvgCharsPerResponse float64 `json:"avgCharsPerResponse"`
}

type Trends struct {
	TTFTDelta      float64 `json:"ttftDelta"`
	TotalTimeDelta float64 `json:"totalTimeDelta"`
	WordCountDelta float64 `json:"wordCountDelta"`
	MessageDelta   float64 `json:"messageDelta"`
}

type SlowTurn struct {
	SessionID   string    `json:"sessionId"`
	MessageID   uint64    `json:"messageId"`
	Content     string    `json:"content"`
	TTFTMs      int64     `json:"ttft"`
	TotalTimeMs int64     `json:"totalTime"`
	CreatedAt   time.Time `json:"createdAt"`
}

type SuggestionStat struct {
	Text        string  `json:"text"`
	ClickCount  int64   `json:"clickCount"`
	AvgRating   float64 `json:"avgRating"`
	RatingCount int64   `json:"ratingCount"`
}

type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type VitalStats struct {
	Avg              float64     `json:"avg"`
	P75              float64     `json:"p75"`
	P95              float64     `json:"p95"`
	Good             int         `json:"good"`
	NeedsImprovement int         `json:"needsImprovement"`
	Poor             int         `json:"poor"`
	TimeSeries       []TimePoint `json:"timeSeries,omitempty"`
}

type WebVitals struct {
	LCP VitalStats `json:"lcp"`
	INP VitalStats `json:"inp"`
	CLS VitalStats `json:"cls"`
}

type Dashboard struct {
	Volume                Volume           `json:"volume"`
	Latency               Latency          `json:"latency"`
	Size                  Size             `json:"size"`
	Trends                Trends           `json:"trends"`
	SlowestTurns          []SlowTurn       `json:"slowestTurns"`
	TopClickedSuggestions []SuggestionStat `json:"topClickedSuggestions"`
	TopRatedSuggestions   []SuggestionStat `json:"topRatedSuggestions"`
	WebVitals             *WebVitals       `json:"webVitals,omitempty"`
}

// Percentile returns the nearest-rank percentile of values: sort ascending,
// index = ceil(p/100 * n) - 1 clamped to [0, n-1]. Empty input yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Delta is the percent change vs the previous period. A zero previous value
// maps to 100 when anything appeared and 0 when both are zero.
func Delta(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (current - previous) / previous * 100
}

// WordCount splits on whitespace, excluding empty tokens.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// EstimateTokens approximates token count as ceil(len/4). It is a named
// heuristic for responses recorded without a token count, not a tokenizer.
func EstimateTokens(content string) int {
	return int(math.Ceil(float64(len(content)) / 4))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// assistantWithMetrics filters to assistant turns that carry a timing record.
func assistantWithMetrics(msgs []chat.Message) []chat.Message {
	var out []chat.Message
	for i := range msgs {
		if msgs[i].HasMetrics() {
			out = append(out, msgs[i])
		}
	}
	return out
}

func ttftValues(msgs []chat.Message) []float64 {
	var out []float64
	for i := range msgs {
		if msgs[i].Metrics.TTFTMs != nil {
			out = append(out, float64(*msgs[i].Metrics.TTFTMs))
		}
	}
	return out
}

func totalTimeValues(msgs []chat.Message) []float64 {
	var out []float64
	for i := range msgs {
		if msgs[i].Metrics.TotalTimeMs != nil {
			out = append(out, float64(*msgs[i].Metrics.TotalTimeMs))
		}
	}
	return out
}

func wordCountValues(msgs []chat.Message) []float64 {
	out := make([]float64, 0, len(msgs))
	for i := range msgs {
		out = append(out, float64(WordCount(msgs[i].Content)))
	}
	return out
}

// Aggregate computes the full dashboard for one window.
func Aggregate(in Input) Dashboard {
	assistant := assistantWithMetrics(in.Messages)

	// volume
	messagesPerUser := make(map[string]int)
	impressions := 0
	for i := range in.Messages {
		m := &in.Messages[i]
		messagesPerUser[m.UserID]++
		if m.Role == chat.RoleAssistant {
			impressions += len(m.Suggestions)
		}
	}

	var totalClicks int64
	for _, s := range in.Suggestions {
		totalClicks += s.ClickCount
	}
	clickRate := 0.0
	if impressions > 0 {
		clickRate = float64(totalClicks) / float64(impressions) * 100
	}

	// latency
	ttfts := ttftValues(assistant)
	totals := totalTimeValues(assistant)

	// size
	words := wordCountValues(assistant)
	var tokens, chars []float64
	for i := range assistant {
		m := &assistant[i]
		if m.Metrics.TokenCount != nil {
			tokens = append(tokens, float64(*m.Metrics.TokenCount))
		} else {
			tokens = append(tokens, float64(EstimateTokens(m.Content)))
		}
		chars = append(chars, float64(len(m.Content)))
	}

	// trends vs the preceding window
	prevAssistant := assistantWithMetrics(in.PreviousMessages)
	trends := Trends{
		TTFTDelta:      Delta(mean(ttfts), mean(ttftValues(prevAssistant))),
		TotalTimeDelta: Delta(mean(totals), mean(totalTimeValues(prevAssistant))),
		WordCountDelta: Delta(mean(words), mean(wordCountValues(prevAssistant))),
		MessageDelta:   Delta(float64(len(in.Messages)), float64(len(in.PreviousMessages))),
	}

	return Dashboard{
		Volume: Volume{
			TotalChats:                 in.SessionCount,
			TotalMessages:              len(in.Messages),
			MessagesPerUser:            messagesPerUser,
			SuggestionClickRate:        clickRate,
			TotalSuggestionClicks:      totalClicks,
			TotalSuggestionImpressions: impressions,
		},
		Latency: Latency{
			AvgTTFT:      mean(ttfts),
			P95TTFT:      Percentile(ttfts, 95),
			AvgTotalTime: mean(totals),
			P95TotalTime: Percentile(totals, 95),
		},
		Size: Size{
			AvgWordCount:        mean(words),
			AvgTokenCount:       mean(tokens),
			AvgCharsPerResponse: mean(chars),
		},
		Trends:                trends,
		SlowestTurns:          slowestTurns(assistant),
		TopClickedSuggestions: topClicked(in.Suggestions),
		TopRatedSuggestions:   topRated(in.Suggestions),
		WebVitals:             aggregateVitals(in.Vitals),
	}
}

func slowestTurns(assistant []chat.Message) []SlowTurn {
	withTotal := make([]chat.Message, 0, len(assistant))
	for i := range assistant {
		if assistant[i].Metrics.TotalTimeMs != nil {
			withTotal = append(withTotal, assistant[i])
		}
	}
	sort.Slice(withTotal, func(i, j int) bool {
		return *withTotal[i].Metrics.TotalTimeMs > *withTotal[j].Metrics.TotalTimeMs
	})
	if len(withTotal) > topN {
		withTotal = withTotal[:topN]
	}

	out := make([]SlowTurn, 0, len(withTotal))
	for i := range withTotal {
		m := &withTotal[i]
		content := m.Content
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		var ttft int64
		if m.Metrics.TTFTMs != nil {
			ttft = *m.Metrics.TTFTMs
		}
		out = append(out, SlowTurn{
			SessionID:   m.SessionID,
			MessageID:   m.ID,
			Content:     content,
			TTFTMs:      ttft,
			TotalTimeMs: *m.Metrics.TotalTimeMs,
			CreatedAt:   m.CreatedAt,
		})
	}
	return out
}

func suggestionStat(s chat.Suggestion) SuggestionStat {
	return SuggestionStat{
		Text:        s.Text,
		ClickCount:  s.ClickCount,
		AvgRating:   s.AvgRating,
		RatingCount: s.RatingCount,
	}
}

func topClicked(suggestions []chat.Suggestion) []SuggestionStat {
	sorted := append([]chat.Suggestion(nil), suggestions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ClickCount > sorted[j].ClickCount
	})
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	out := make([]SuggestionStat, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, suggestionStat(s))
	}
	return out
}

func topRated(suggestions []chat.Suggestion) []SuggestionStat {
	var rated []chat.Suggestion
	for _, s := range suggestions {
		if s.RatingCount > 0 {
			rated = append(rated, s)
		}
	}
	sort.Slice(rated, func(i, j int) bool {
		return rated[i].AvgRating > rated[j].AvgRating
	})
	if len(rated) > topN {
		rated = rated[:topN]
	}
	out := make([]SuggestionStat, 0, len(rated))
	for _, s := range rated {
		out = append(out, suggestionStat(s))
	}
	return out
}

// aggregateVitals buckets LCP/INP/CLS; nil when no vitals were reported.
// Only LCP carries the chronological time series used by the trend chart.
func aggregateVitals(all []vitals.Vital) *WebVitals {
	if len(all) == 0 {
		return nil
	}

	byMetric := func(name string, withSeries bool) VitalStats {
		var stats VitalStats
		var values []float64
		for _, v := range all {
			if v.Metric != name {
				continue
			}
			values = append(values, v.Value)
			switch v.Rating {
			case vitals.RatingGood:
				stats.Good++
			case vitals.RatingNeedsImprovement:
				stats.NeedsImprovement++
			case vitals.RatingPoor:
				stats.Poor++
			}
			if withSeries {
				stats.TimeSeries = append(stats.TimeSeries, TimePoint{Timestamp: v.Timestamp, Value: v.Value})
			}
		}
		stats.Avg = mean(values)
		stats.P75 = Percentile(values, 75)
		stats.P95 = Percentile(values, 95)
		if withSeries {
			sort.Slice(stats.TimeSeries, func(i, j int) bool {
				return stats.TimeSeries[i].Timestamp.Before(stats.TimeSeries[j].Timestamp)
			})
		}
		return stats
	}

	return &WebVitals{
		LCP: byMetric(vitals.MetricLCP, true),
		INP: byMetric(vitals.MetricINP, false),
		CLS: byMetric(vitals.MetricCLS, false),
	}
}
