// Package events publishes application events to RabbitMQ for consumers
// outside the portal.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mroshb/clan_portal/internal/notify"
	"github.com/mroshb/clan_portal/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the durable queue every event is routed to.
const DefaultQueue = "portal.applications"

// Message is the JSON body of a published event.
type Message struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// AMQPSink is a notify.Notifier that forwards every event to a queue. The
// connection is opened on first use and reopened after it drops.
type AMQPSink struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSink(url, queue string) *AMQPSink {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPSink{url: url, queue: queue}
}

func (s *AMQPSink) AnnounceNewApplication(ctx context.Context, app notify.ApplicationPayload) error {
	return s.publish(ctx, notify.KindApplicationSubmitted, app)
}

func (s *AMQPSink) AnnounceStatusChange(ctx context.Context, app notify.ApplicationPayload) error {
	return s.publish(ctx, notify.KindStatusChanged, app)
}

func (s *AMQPSink) GrantRoles(ctx context.Context, grant notify.RoleGrant) error {
	return s.publish(ctx, notify.KindRolesGrant, grant)
}

func (s *AMQPSink) publish(ctx context.Context, kind string, data interface{}) error {
	pub, err := encodeMessage(kind, data, time.Now().UTC())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx, "", s.queue, false, false, pub); err != nil {
		s.reset()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// channel returns an open channel, dialing and declaring the queue when
// needed. Callers hold s.mu.
func (s *AMQPSink) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() && s.conn != nil && !s.conn.IsClosed() {
		return s.ch, nil
	}
	s.reset()

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}

	logger.Info("AMQP sink connected", "queue", s.queue)
	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close drops the broker connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func encodeMessage(kind string, data interface{}, at time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(Message{Type: kind, OccurredAt: at, Data: data})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s message: %w", kind, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
		Type:         kind,
		Body:         body,
	}, nil
}
