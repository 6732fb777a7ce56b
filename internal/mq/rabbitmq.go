package mq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/useraccounts/apiserver/config"
)

const appID = "accountserver"

// RabbitMQBroker treats each channel as a queue on the default exchange.
// Publishing waits for broker confirms; queues are declared on first use.
type RabbitMQBroker struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	durable bool
	autoDel bool

	mu       sync.Mutex
	declared map[string]bool
}

func NewRabbitMQBroker(cfg config.RabbitMQConfig) (*RabbitMQBroker, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := openConfirmChannel(conn, cfg.PrefetchCount)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQBroker{
		conn:     conn,
		ch:       ch,
		durable:  cfg.QueueDurable,
		autoDel:  cfg.QueueAutoDelete,
		declared: make(map[string]bool),
	}, nil
}

func openConfirmChannel(conn *amqp.Connection, prefetch int) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}
	return ch, nil
}

// Publish returns once the broker has confirmed the message.
func (r *RabbitMQBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := r.declare(channel); err != nil {
		return "", err
	}

	msg := r.publishing(data, attrs)
	confirm, err := r.ch.PublishWithDeferredConfirmWithContext(ctx, "", channel, false, false, msg)
	if err != nil {
		return "", err
	}
	acked, err := confirm.WaitContext(ctx)
	switch {
	case err != nil:
		return "", err
	case !acked:
		return "", fmt.Errorf("rabbitmq nacked message %s", msg.MessageId)
	}
	return msg.MessageId, nil
}

// Subscribe consumes the queue until ctx is done. A rejected message is
// requeued once; if it fails again on redelivery it is dropped.
func (r *RabbitMQBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := r.declare(channel); err != nil {
		return err
	}

	tag := "consumer-" + randomID()
	deliveries, err := r.ch.Consume(channel, tag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.ch.Cancel(tag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			settle(d, handler(ctx, fromDelivery(d)))
		}
	}
}

func (r *RabbitMQBroker) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQBroker) declare(queue string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared[queue] {
		return nil
	}
	if _, err := r.ch.QueueDeclare(queue, r.durable, r.autoDel, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	r.declared[queue] = true
	return nil
}

func (r *RabbitMQBroker) publishing(data []byte, attrs map[string]string) amqp.Publishing {
	headers := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		headers[k] = v
	}
	mode := amqp.Transient
	if r.durable {
		mode = amqp.Persistent
	}
	return amqp.Publishing{
		AppId:        appID,
		MessageId:    randomID(),
		Type:         attrs[AttrKind],
		ContentType:  contentType(attrs),
		DeliveryMode: mode,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	}
}

func settle(d amqp.Delivery, handlerErr error) {
	if handlerErr == nil {
		_ = d.Ack(false)
		return
	}
	_ = d.Nack(false, !d.Redelivered)
}

func fromDelivery(d amqp.Delivery) Message {
	return Message{
		ID:         d.MessageId,
		Data:       d.Body,
		Attributes: headersToAttributes(d.Headers),
	}
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch v := value.(type) {
		case string:
			attrs[key] = v
		case []byte:
			attrs[key] = string(v)
		default:
			attrs[key] = fmt.Sprint(v)
		}
	}
	return attrs
}

func randomID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
