package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/SEK-11/OCR/internal/model"
)

const auditMessageType = "document.upload.audit"

// AuditPublisher sends upload audit events to a queue declared by New. It
// keeps one channel open and reopens it after the broker closes it.
type AuditPublisher struct {
	conn      *amqp.Connection
	queueName string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAuditPublisher(conn *amqp.Connection, queueName string) *AuditPublisher {
	return &AuditPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *AuditPublisher) Publish(ctx context.Context, audit model.UploadAudit) error {
	msg, err := auditMessage(audit)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, msg); err != nil {
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("publish audit failed: %w", err)
	}
	return nil
}

// Close releases the publishing channel. The connection stays open.
func (p *AuditPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func (p *AuditPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func auditMessage(audit model.UploadAudit) (amqp.Publishing, error) {
	payload, err := json.Marshal(audit)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal audit payload failed: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: audit.SessionID,
		Type:          auditMessageType,
		Timestamp:     audit.CreatedAt,
		Headers: amqp.Table{
			"status":    audit.Status,
			"file_type": audit.FileType,
		},
		Body: payload,
	}, nil
}
