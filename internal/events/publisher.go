package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is one event handed to a Publisher.
type Message struct {
	ID          string
	Topic       string
	AggregateID string
	Payload     []byte
}

// Publisher delivers messages to the notification side. Publish must be safe
// to call again for a message that was already delivered.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes events to the log. It stands in for a broker in
// single-instance deployments.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a LogPublisher. A nil logger uses slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.InfoContext(ctx, "event published",
		slog.String("event_id", msg.ID),
		slog.String("topic", msg.Topic),
		slog.String("aggregate_id", msg.AggregateID),
		slog.String("payload", string(msg.Payload)),
	)
	return nil
}

// AMQPPublisher publishes to a durable topic exchange, using the event topic
// as routing key. The connection is re-established lazily after a failure.
type AMQPPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	dial     dialFunc
	session  brokerSession
	logger   *slog.Logger
}

// brokerSession is an open channel on which the exchange is declared.
type brokerSession interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func(url, exchange string) (brokerSession, error)

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(url, exchange, logger, dialBroker)
}

func newAMQPPublisher(url, exchange string, logger *slog.Logger, dial dialFunc) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &AMQPPublisher{url: url, exchange: exchange, dial: dial, logger: logger}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnectionLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) ensureConnectionLocked() error {
	if p.session != nil && !p.session.IsClosed() {
		return nil
	}
	p.closeLocked()

	session, err := p.dial(p.url, p.exchange)
	if err != nil {
		return err
	}
	p.session = session
	p.logger.Info("broker connected", slog.String("exchange", p.exchange))
	return nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnectionLocked(); err != nil {
		return err
	}

	err := p.session.PublishWithContext(ctx,
		p.exchange,
		msg.Topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         msg.Topic,
			Body:         msg.Payload,
		},
	)
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("events: publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *AMQPPublisher) closeLocked() error {
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// amqpSession pairs a connection with the channel opened on it.
type amqpSession struct {
	conn *amqp.Connection
	*amqp.Channel
}

func dialBroker(url, exchange string) (brokerSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	return &amqpSession{conn: conn, Channel: ch}, nil
}

func (s *amqpSession) IsClosed() bool {
	return s.conn.IsClosed() || s.Channel.IsClosed()
}

func (s *amqpSession) Close() error {
	var firstErr error
	if err := s.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		firstErr = err
	}
	if err := s.conn.Close(); err != nil && firstErr == nil && !errors.Is(err, amqp.ErrClosed) {
		firstErr = err
	}
	return firstErr
}
