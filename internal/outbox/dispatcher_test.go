package outbox

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestDispatcher(t *testing.T, db *gorm.DB, probe ConnectivityProbe, opts Options) (*Dispatcher, *Queue) {
	t.Helper()
	q := NewQueue(db)
	d := NewDispatcher(q, &http.Client{Timeout: 2 * time.Second}, probe, slog.Default(), opts)
	return d, q
}

func queueLen(t *testing.T, q *Queue) int64 {
	t.Helper()
	n, err := q.Len(context.Background())
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	return n
}

func TestSendOrQueue_OfflineEnqueues(t *testing.T) {
	db := openTestDB(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d, q := newTestDispatcher(t, db, NewStaticProbe(false), Options{})

	if err := d.SendOrQueue(context.Background(), srv.URL, "POST", map[string]string{"k": "v"}, nil); err != nil {
		t.Fatalf("send or queue: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("offline send must not hit the network, got %d hits", hits.Load())
	}
	if n := queueLen(t, q); n != 1 {
		t.Fatalf("expected 1 queued event, got %d", n)
	}
}

func TestSendOrQueue_OnlineDeliversImmediately(t *testing.T) {
	db := openTestDB(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d, q := newTestDispatcher(t, db, NewStaticProbe(true), Options{})

	if err := d.SendOrQueue(context.Background(), srv.URL, "POST", map[string]string{"k": "v"}, nil); err != nil {
		t.Fatalf("send or queue: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", hits.Load())
	}
	if n := queueLen(t, q); n != 0 {
		t.Fatalf("delivered event must not be queued, got %d", n)
	}
}

func TestSendOrQueue_FailedSendFallsBackToQueue(t *testing.T) {
	db := openTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, q := newTestDispatcher(t, db, NewStaticProbe(true), Options{})

	if err := d.SendOrQueue(context.Background(), srv.URL, "POST", map[string]string{"k": "v"}, nil); err != nil {
		t.Fatalf("send or queue: %v", err)
	}
	if n := queueLen(t, q); n != 1 {
		t.Fatalf("failed send should queue the event, got %d queued", n)
	}
}

func TestDrain_ExponentialBackoffSchedule(t *testing.T) {
	db := openTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	base := 2 * time.Second
	d, q := newTestDispatcher(t, db, NewStaticProbe(true), Options{BaseDelay: base, MaxAttempts: 5})

	id, err := q.Enqueue(context.Background(), srv.URL, "POST", map[string]string{"k": "v"}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// first failed attempt: retry in ~base
	before := time.Now()
	d.Drain(context.Background())

	var ev Event
	if err := db.First(&ev, "id = ?", id).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", ev.RetryCount)
	}
	gap := ev.NextRetryAt.Sub(before)
	if gap < base-500*time.Millisecond || gap > base+2*time.Second {
		t.Fatalf("first retry delay ~%v, want ~%v", gap, base)
	}

	// not due yet: drain must skip it
	d.Drain(context.Background())
	if err := db.First(&ev, "id = ?", id).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.RetryCount != 1 {
		t.Fatalf("undue event was retried, count %d", ev.RetryCount)
	}

	// force it due and fail again: delay doubles
	if err := q.UpdateRetry(context.Background(), id, ev.RetryCount, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("force due: %v", err)
	}
	before = time.Now()
	d.Drain(context.Background())
	if err := db.First(&ev, "id = ?", id).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", ev.RetryCount)
	}
	gap = ev.NextRetryAt.Sub(before)
	if gap < 2*base-500*time.Millisecond || gap > 2*base+2*time.Second {
		t.Fatalf("second retry delay ~%v, want ~%v", gap, 2*base)
	}
}

func TestDrain_DropsAfterMaxAttempts(t *testing.T) {
	db := openTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, q := newTestDispatcher(t, db, NewStaticProbe(true), Options{MaxAttempts: 5})

	id, err := q.Enqueue(context.Background(), srv.URL, "POST", map[string]string{"k": "v"}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// four failures already on record; the next one exhausts the budget
	if err := q.UpdateRetry(context.Background(), id, 4, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("seed retries: %v", err)
	}

	d.Drain(context.Background())

	if n := queueLen(t, q); n != 0 {
		t.Fatalf("exhausted event must be dropped, %d still queued", n)
	}
}

func TestDrain_SuccessRemovesEvent(t *testing.T) {
	db := openTestDB(t)
	var bodies atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodies.Add(1)
	}))
	defer srv.Close()

	d, q := newTestDispatcher(t, db, NewStaticProbe(true), Options{})

	if _, err := q.Enqueue(context.Background(), srv.URL, "POST", map[string]string{"k": "v"}, map[string]string{"X-Test": "1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d.Drain(context.Background())

	if bodies.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", bodies.Load())
	}
	if n := queueLen(t, q); n != 0 {
		t.Fatalf("delivered event still queued, %d rows", n)
	}
}

func TestHTTPProbe_EmptyURLIsAlwaysOnline(t *testing.T) {
	p := NewHTTPProbe("")
	if !p.Online(context.Background()) {
		t.Fatalf("probe without a target must report online")
	}
}

func TestStaticProbe_Toggles(t *testing.T) {
	p := NewStaticProbe(false)
	if p.Online(context.Background()) {
		t.Fatalf("expected offline")
	}
	p.SetOnline(true)
	if !p.Online(context.Background()) {
		t.Fatalf("expected online")
	}
}
