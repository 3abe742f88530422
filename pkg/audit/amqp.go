package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mingtsay/openclaw/pkg/logger"
)

const (
	DefaultExchange   = "openclaw.audit"
	DefaultRoutingKey = "bridge.injection.accepted"
)

// ErrNotConfirmed is returned when the broker nacks a published entry.
var ErrNotConfirmed = errors.New("audit entry not confirmed by broker")

type amqpChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// AMQPSink publishes entries as JSON to a topic exchange with publisher confirms.
type AMQPSink struct {
	conn       *amqp.Connection
	exchange   string
	routingKey string

	mu sync.Mutex
	ch amqpChannel
}

// NewAMQPSink dials url, declares a durable topic exchange and puts the
// channel into confirm mode.
func NewAMQPSink(url, exchange, routingKey string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	logger.InfoCF("audit", "AMQP audit sink ready", map[string]any{
		"exchange":    exchange,
		"routing_key": routingKey,
	})

	return &AMQPSink{conn: conn, exchange: exchange, routingKey: routingKey, ch: ch}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	correlationID := e.RequestID
	if correlationID == "" {
		correlationID = e.ID
	}

	s.mu.Lock()
	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     e.ID,
		CorrelationId: correlationID,
		Type:          EventInjectionAccepted,
		Timestamp:     e.At,
		AppId:         "openclaw",
		Body:          body,
	})
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}

	// dc is nil when the channel is not in confirm mode
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
