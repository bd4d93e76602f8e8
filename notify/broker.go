package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/warp/parking-engine/billing"
	"go.uber.org/zap"
)

// Publisher is the subset of *amqp091.Channel used by Broker.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Broker publishes a DelinquencyEvent per notice on a topic exchange.
type Broker struct {
	pub      Publisher
	exchange string
	log      *zap.Logger
	now      func() time.Time
	closers  []func() error
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// DialBroker connects to RabbitMQ and declares the topic exchange.
func DialBroker(amqpURL, exchange string, log *zap.Logger) (*Broker, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	b := NewBroker(channel, exchange, log)
	b.closers = []func() error{channel.Close, conn.Close}
	return b, nil
}

// NewBroker wraps an already configured publisher.
func NewBroker(pub Publisher, exchange string, log *zap.Logger) *Broker {
	return &Broker{pub: pub, exchange: exchange, log: log, now: time.Now}
}

func (b *Broker) Name() string { return "broker" }

func (b *Broker) Notify(ctx context.Context, n billing.Notice) error {
	event := NewEvent(n, b.now())
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := RoutingKey(n.Evaluation.State)
	err = b.pub.PublishWithContext(ctx,
		b.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.EventID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	b.log.Debug("published delinquency event",
		zap.String("exchange", b.exchange),
		zap.String("routing_key", key),
		zap.String("event_id", event.EventID),
	)
	return nil
}

// Close closes the channel and connection opened by DialBroker.
func (b *Broker) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
