package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/pulsechat/pulsechat/internal/chat"
	"github.com/pulsechat/pulsechat/internal/config"
	"github.com/pulsechat/pulsechat/internal/llm"
	"github.com/pulsechat/pulsechat/internal/vitals"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&chat.User{}, &chat.Session{}, &chat.Message{}, &chat.Suggestion{}, &vitals.Vital{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openTestDB(t)
	repo := chat.NewRepo(db)

	mock := &llm.MockProvider{} // no pacing in tests
	reg := llm.NewRegistry()
	reg.Register("mock", func(ctx context.Context, model string) (llm.Provider, error) {
		return mock, nil
	})
	svc := chat.NewService(repo, reg, mock, "mock", "default", 20, nil)

	h := NewHandler(config.Config{}, svc, repo, vitals.NewRepo(db), nil, nil, nil)

	r := gin.New()
	r.POST("/api/chat", h.SendChat)
	r.GET("/api/sessions", h.ListSessions)
	r.GET("/api/sessions/:id", h.GetSession)
	r.POST("/api/suggestions/click", h.ClickSuggestion)
	r.POST("/api/suggestions/:id/rank", h.RankSuggestion)
	r.POST("/api/vitals", h.ReportVital)
	r.GET("/api/dashboard/metrics", h.DashboardMetrics)
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendChat_MissingFields(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, body := range []string{
		`{}`,
		`{"sessionId":"s1","userId":"u1"}`,
		`{"sessionId":"s1","prompt":"hi"}`,
		`{"userId":"u1","prompt":"hi"}`,
	} {
		w := doJSON(t, r, http.MethodPost, "/api/chat", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestSendChat_StreamsSSE(t *testing.T) {
	r, db := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/chat",
		`{"sessionId":"sse-1","userId":"u-sse","prompt":"hello"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	var sawToken, sawDone bool
	var done struct {
		Type        string            `json:"type"`
		FullText    string            `json:"fullText"`
		Suggestions []chat.Suggestion `json:"suggestions"`
		Metrics     *chat.StreamMetrics
	}
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("bad event json %q: %v", payload, err)
		}
		switch ev.Type {
		case chat.EventToken:
			sawToken = true
		case chat.EventDone:
			sawDone = true
			if err := json.Unmarshal([]byte(payload), &done); err != nil {
				t.Fatalf("bad done json: %v", err)
			}
		case chat.EventError:
			t.Fatalf("unexpected error event: %s", payload)
		}
	}
	if !sawToken || !sawDone {
		t.Fatalf("expected token and done events, got token=%v done=%v", sawToken, sawDone)
	}
	if done.FullText == "" || len(done.Suggestions) == 0 || done.Metrics == nil {
		t.Fatalf("incomplete done payload: %+v", done)
	}

	var n int64
	if err := db.Model(&chat.Message{}).Where("session_id = ?", "sse-1").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected persisted user + assistant rows, got %d", n)
	}
}

func TestListSessions_RequiresUserID(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/sessions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestClickSuggestion_Flow(t *testing.T) {
	r, db := newTestRouter(t)

	repo := chat.NewRepo(db)
	out, err := repo.GetOrCreateSuggestions(context.Background(), []string{"click target"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/suggestions/click",
		`{"suggestionId":`+jsonUint(out[0].ID)+`}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	s, err := repo.GetSuggestionByID(context.Background(), out[0].ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.ClickCount != 1 {
		t.Fatalf("expected click count 1, got %d", s.ClickCount)
	}

	w = doJSON(t, r, http.MethodPost, "/api/suggestions/click", `{"suggestionId":999999}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown suggestion: expected 404, got %d", w.Code)
	}
}

func TestRankSuggestion_Validation(t *testing.T) {
	r, db := newTestRouter(t)

	repo := chat.NewRepo(db)
	out, err := repo.GetOrCreateSuggestions(context.Background(), []string{"rank target"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := jsonUint(out[0].ID)

	for _, body := range []string{`{"rank":0}`, `{"rank":6}`, `{}`} {
		w := doJSON(t, r, http.MethodPost, "/api/suggestions/"+id+"/rank", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}

	w := doJSON(t, r, http.MethodPost, "/api/suggestions/"+id+"/rank", `{"rank":4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReportVital_ValidationAndInsert(t *testing.T) {
	r, db := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vitals",
		`{"sessionId":"s1","userId":"u1","metric":"BOGUS","value":1,"rating":"good"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad metric: expected 400, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/vitals",
		`{"sessionId":"s1","userId":"u1","metric":"LCP","value":1,"rating":"excellent"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad rating: expected 400, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/vitals",
		`{"sessionId":"s1","userId":"u1","metric":"LCP","value":1234.5,"rating":"good","pageUrl":"/chat"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var n int64
	if err := db.Model(&vitals.Vital{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 vital row, got %d", n)
	}
}

func TestDashboardMetrics_EndToEnd(t *testing.T) {
	r, _ := newTestRouter(t)

	// seed one full turn through the chat endpoint
	w := doJSON(t, r, http.MethodPost, "/api/chat",
		`{"sessionId":"dash-1","userId":"u-dash","prompt":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("seed chat: %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/dashboard/metrics?userId=u-dash", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	var dash struct {
		Volume struct {
			TotalMessages int   `json:"totalMessages"`
			TotalChats    int64 `json:"totalChats"`
		} `json:"volume"`
	}
	if err := json.Unmarshal(resp.Data, &dash); err != nil {
		t.Fatalf("dashboard payload: %v", err)
	}
	if dash.Volume.TotalMessages != 2 || dash.Volume.TotalChats != 1 {
		t.Fatalf("unexpected volume: %+v", dash.Volume)
	}

	w = doJSON(t, r, http.MethodGet, "/api/dashboard/metrics?from=not-a-time", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", w.Code)
	}
}

func jsonUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
