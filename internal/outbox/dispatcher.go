package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultDrainInterval = 10 * time.Second
	defaultBaseDelay     = 2 * time.Second
	defaultMaxAttempts   = 5
)

// Options tune the dispatcher; zero values fall back to defaults.
type Options struct {
	DrainInterval time.Duration
	BaseDelay     time.Duration
	MaxAttempts   int
}

// Dispatcher decides send-immediately vs enqueue and drains the queue on a
// timer and on connectivity-restored transitions. Delivery is at-least-once;
// the receiving endpoint owns idempotency.
type Dispatcher struct {
	queue  *Queue
	client *http.Client
	probe  ConnectivityProbe
	log    *slog.Logger

	interval    time.Duration
	baseDelay   time.Duration
	maxAttempts int

	draining atomic.Bool
	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(queue *Queue, client *http.Client, probe ConnectivityProbe, log *slog.Logger, opts Options) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = defaultDrainInterval
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Dispatcher{
		queue:       queue,
		client:      client,
		probe:       probe,
		log:         log,
		interval:    opts.DrainInterval,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		kick:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

// SendOrQueue attempts immediate delivery when online and falls back to the
// durable queue on failure or while offline. The returned error is only for a
// failed enqueue (store unavailable); delivery failures are absorbed.
func (d *Dispatcher) SendOrQueue(ctx context.Context, url, method string, body any, headers map[string]string) error {
	if d.probe.Online(ctx) {
		if err := d.send(ctx, url, method, body, headers); err == nil {
			return nil
		} else {
			d.log.Warn("immediate send failed, queueing", "url", url, "error", err)
		}
	}

	id, err := d.queue.Enqueue(ctx, url, method, body, headers)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	d.log.Debug("queued event", "event_id", id, "url", url)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, url, method string, body any, headers map[string]string) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return d.sendRaw(ctx, url, method, b, headers)
}

func (d *Dispatcher) sendRaw(ctx context.Context, url, method string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

// Drain delivers every due event once. Success removes the event; failure
// reschedules it with exponential backoff, and an event that has exhausted
// its attempts is dropped with a warning. Concurrent calls are single-flight:
// a drain that finds another in progress returns immediately.
func (d *Dispatcher) Drain(ctx context.Context) {
	if !d.draining.CompareAndSwap(false, true) {
		return
	}
	defer d.draining.Store(false)

	now := time.Now()
	due, err := d.queue.ListDue(ctx, now)
	if err != nil {
		d.log.Warn("outbox scan failed", "error", err)
		return
	}

	for _, ev := range due {
		headers := make(map[string]string, len(ev.Headers))
		for k, v := range ev.Headers {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}

		if err := d.sendRaw(ctx, ev.URL, ev.Method, []byte(ev.Body), headers); err != nil {
			attempts := ev.RetryCount + 1
			if attempts >= d.maxAttempts {
				// Deliberate data-loss tradeoff: bounded local storage over
				// infinite retry.
				d.log.Warn("dropping event after max retries",
					"event_id", ev.ID, "url", ev.URL, "attempts", attempts, "error", err)
				if derr := d.queue.Dequeue(ctx, ev.ID); derr != nil {
					d.log.Warn("failed to drop event", "event_id", ev.ID, "error", derr)
				}
				continue
			}

			delay := d.baseDelay << uint(ev.RetryCount)
			d.log.Debug("retry scheduled",
				"event_id", ev.ID, "attempt", attempts, "delay", delay, "error", err)
			if uerr := d.queue.UpdateRetry(ctx, ev.ID, attempts, now.Add(delay)); uerr != nil {
				d.log.Warn("failed to reschedule event", "event_id", ev.ID, "error", uerr)
			}
			continue
		}

		if err := d.queue.Dequeue(ctx, ev.ID); err != nil {
			// Left in the queue; will be re-sent. At-least-once, not exactly-once.
			d.log.Warn("delivered but failed to dequeue", "event_id", ev.ID, "error", err)
		}
	}
}

// Kick requests an immediate drain, used when a connectivity-restored signal
// arrives from outside the polling loop.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Start runs the drain loop until Stop is called or ctx is cancelled. An
// offline-to-online transition observed via the probe drains immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		wasOnline := d.probe.Online(ctx)
		if wasOnline {
			d.Drain(ctx)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-d.kick:
				if d.probe.Online(ctx) {
					d.Drain(ctx)
					wasOnline = true
				}
			case <-ticker.C:
				online := d.probe.Online(ctx)
				if online && !wasOnline {
					d.log.Info("connectivity restored, draining outbox")
				}
				if online {
					d.Drain(ctx)
				}
				wasOnline = online
			}
		}
	}()
}

// Stop halts the drain loop and waits for it to exit. In-flight sends are not
// cancelled; an event cut off mid-flight stays durable and is retried later.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}
