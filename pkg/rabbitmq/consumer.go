package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Handler processes one delivery body. Returning false requeues the message.
type Handler func(body []byte) bool

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger  zerolog.Logger
	done    chan struct{}
	started bool
}

func NewConsumer(amqpURL string, logger zerolog.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redact(cleanURL), err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Consumer{
		conn:   conn,
		ch:     ch,
		logger: logger.With().Str("component", "rabbitmq_consumer").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// ConsumeWithBindings declares a durable queue bound to exchange under every
// routing key in bindings and dispatches deliveries to the matching handler.
// Deliveries with no handler are acked and dropped.
func (c *Consumer) ConsumeWithBindings(exchange, queue string, prefetch int, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := c.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}

	handlers := make(map[string]Handler, len(bindings))
	for key, h := range bindings {
		if h == nil {
			continue
		}
		handlers[key] = h
		if err := c.ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, exchange, err)
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	c.started = true
	go func() {
		defer close(c.done)
		for d := range msgs {
			dispatch(c.logger, handlers, d)
		}
	}()
	return nil
}

// acknowledger is the subset of amqp.Delivery dispatch needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type delivery struct {
	ack        acknowledger
	routingKey string
	body       []byte
}

func dispatch(logger zerolog.Logger, handlers map[string]Handler, d amqp.Delivery) {
	route(logger, handlers, delivery{ack: d, routingKey: d.RoutingKey, body: d.Body})
}

func route(logger zerolog.Logger, handlers map[string]Handler, d delivery) {
	h, ok := handlers[d.routingKey]
	if !ok {
		logger.Warn().Str("routing_key", d.routingKey).Msg("no handler for routing key; dropping")
		_ = d.ack.Ack(false)
		return
	}
	if h(d.body) {
		_ = d.ack.Ack(false)
		return
	}
	logger.Warn().Str("routing_key", d.routingKey).Msg("handler failed; requeueing")
	_ = d.ack.Nack(false, true)
}

// Close stops delivery and waits for the in-flight handler to return.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if !c.started {
		return
	}
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
}
