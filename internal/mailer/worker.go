// Package mailer consumes credential notices from the mail queue and
// delivers them through the configured mail provider.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pantheonhq/pantheon/internal/notify"
	"github.com/pantheonhq/pantheon/shared/rabbitmq"
)

// Config holds mailer worker configuration.
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Provider      Provider
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	SendTimeout   time.Duration
}

// Worker is the mail delivery worker. One dispatcher goroutine pulls
// deliveries off the queue and a fixed-size pool sends them.
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	provider      Provider
	workerID      string
	concurrency   int
	prefetchCount int
	sendTimeout   time.Duration

	deliveryChan chan amqp.Delivery
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewWorker creates a new mailer worker.
func NewWorker(cfg *Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = cfg.Concurrency * 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		provider:      cfg.Provider,
		workerID:      cfg.WorkerID,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		sendTimeout:   cfg.SendTimeout,
		deliveryChan:  make(chan amqp.Delivery),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes the mail queue until the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnSenderPool(ctx)
	w.dispatch(ctx, deliveries)

	return nil
}

// Stop waits for in-flight sends to finish.
func (w *Worker) Stop() {
	w.logger.Info("Stopping mailer worker")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Mailer worker stopped")
}

func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// Prefetch limits unacknowledged deliveries per consumer so one slow
	// provider call does not pile up the whole queue on this instance.
	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Mail consumer started",
		slog.String("worker_id", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

func (w *Worker) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Mail dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			select {
			case w.deliveryChan <- delivery:
			case <-ctx.Done():
				// Requeue so another instance can pick it up.
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown", slog.Any("error", nackErr))
				}
				return
			}
		}
	}
}

func (w *Worker) spawnSenderPool(ctx context.Context) {
	w.logger.Info("Spawning sender pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.senderLoop(ctx, i)
	}
}

func (w *Worker) senderLoop(ctx context.Context, senderNum int) {
	defer w.wg.Done()

	senderName := fmt.Sprintf("%s-%d", w.workerID, senderNum)

	for {
		select {
		case <-w.stopChan:
			return

		case <-ctx.Done():
			return

		case delivery, ok := <-w.deliveryChan:
			if !ok {
				return
			}

			w.handleDelivery(ctx, senderName, delivery)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, senderName string, delivery amqp.Delivery) {
	var msg notify.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse mail message",
			slog.String("sender", senderName),
			slog.Any("error", err),
		)
		// Malformed messages never become valid, drop without requeue.
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	err := w.provider.Send(sendCtx, msg)
	cancel()

	if err != nil {
		w.logger.Error("Failed to deliver mail",
			slog.String("sender", senderName),
			slog.String("to", msg.To),
			slog.Any("error", err),
		)

		// One redelivery attempt, then drop.
		if nackErr := delivery.Nack(false, !delivery.Redelivered); nackErr != nil {
			w.logger.Error("Failed to NACK message", slog.Any("error", nackErr))
		}
		return
	}

	w.logger.Info("Mail delivered",
		slog.String("sender", senderName),
		slog.String("to", msg.To),
	)

	if ackErr := delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message", slog.Any("error", ackErr))
	}
}
