package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/pulsechat/pulsechat/internal/config"
	"github.com/pulsechat/pulsechat/internal/db"
	"github.com/pulsechat/pulsechat/internal/store/rabbitmq"
	"github.com/pulsechat/pulsechat/internal/vitals"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, config.ParseLevel(cfg.LogLevel))
	defer cleanup()
	slog.SetDefault(logger)

	gdb := db.Connect(cfg.DBDSN)
	repo := vitals.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("vitals worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.VitalMessage
				if err := json.Unmarshal(d.Body, &m); err != nil {
					logger.Warn("bad vital payload", "worker", workerID, "error", err)
					_ = d.Nack(false, false) // dead-letter it
					continue
				}
				if !vitals.ValidMetric(m.Metric) || !vitals.ValidRating(m.Rating) {
					logger.Warn("invalid vital", "worker", workerID, "metric", m.Metric, "rating", m.Rating)
					_ = d.Nack(false, false)
					continue
				}

				if err := handleVital(ctx, repo, m); err != nil {
					logger.Warn("vital insert failed", "worker", workerID, "error", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					logger.Warn("ack failed", "worker", workerID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleVital(ctx context.Context, repo *vitals.Repo, m rabbitmq.VitalMessage) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	v := &vitals.Vital{
		SessionID: m.SessionID,
		UserID:    m.UserID,
		Metric:    m.Metric,
		Value:     m.Value,
		Rating:    m.Rating,
		Timestamp: ts,
		PageURL:   m.PageURL,
	}
	if m.UserAgent != "" {
		v.UserAgent = &m.UserAgent
	}
	if m.Device != "" {
		v.Device = &m.Device
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return repo.Insert(cctx, v)
}
