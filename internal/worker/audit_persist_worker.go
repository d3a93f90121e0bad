package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/SEK-11/OCR/internal/model"
)

type AuditStore interface {
	Create(audit *model.UploadAudit) error
}

// AuditPersistWorker drains upload audit events from RabbitMQ into the
// audit store.
type AuditPersistWorker struct {
	conn      *amqp.Connection
	store     AuditStore
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAuditPersistWorker(conn *amqp.Connection, store AuditStore, queueName string, logger *slog.Logger) *AuditPersistWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditPersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		logger:    logger.With("worker", "audit_persist", "queue", queueName),
	}
}

func (w *AuditPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(d.Body); err != nil {
					w.logger.Error("drop audit event", "error", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *AuditPersistWorker) handle(body []byte) error {
	var audit model.UploadAudit
	if err := json.Unmarshal(body, &audit); err != nil {
		return fmt.Errorf("decode audit event failed: %w", err)
	}
	// The broker may redeliver; let the database assign the key.
	audit.ID = 0
	if err := w.store.Create(&audit); err != nil {
		return fmt.Errorf("persist audit event failed: %w", err)
	}
	return nil
}

func (w *AuditPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
