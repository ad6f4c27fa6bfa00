// Package broker wraps the AMQP exchange/queue the pump publishes decoded
// gateway payloads to and the router consumes commands from. Grounded on
// original_source/src/handler.rs's use of lapin (basic_publish per event
// type, basic_consume on gateway.send), reimplemented against
// github.com/streadway/amqp since Sandwich-Producer's NATS/STAN client has no
// exchange/routing-key model an AMQP broker needs.
package broker

import (
	"fmt"

	"github.com/streadway/amqp"
)

const (
	// Exchange is the topic exchange every decoded dispatch is published to,
	// routed by event type (GUILD_CREATE, MESSAGE_CREATE, ...).
	Exchange = "gateway"

	// QueueSend is the queue the router consumes outbound shard commands
	// from.
	QueueSend = "gateway.send"
)

// Broker owns one AMQP connection and channel.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to addr and declares the topic exchange and send queue.
func Dial(addr string) (*Broker, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("broker: declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueSend, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("broker: declare queue: %w", err)
	}

	return &Broker{conn: conn, ch: ch}, nil
}

// Publish sends body to Exchange, routed by routingKey (the dispatch type,
// e.g. "GUILD_CREATE"), matching handler.rs's basic_publish call.
func (b *Broker) Publish(routingKey string, body []byte) error {
	return b.ch.Publish(Exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Consume starts consuming QueueSend, acking each delivery before handing it
// to handle — handler.rs's incoming() acks immediately and tolerates handler
// failures by just logging them rather than requeueing.
func (b *Broker) Consume(consumerTag string, handle func(body []byte)) error {
	deliveries, err := b.ch.Consume(QueueSend, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume: %w", err)
	}

	go func() {
		for d := range deliveries {
			d.Ack(false)
			handle(d.Body)
		}
	}()
	return nil
}

// Close shuts down the channel and connection.
func (b *Broker) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
