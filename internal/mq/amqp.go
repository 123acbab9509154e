package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

const connectRetries = 10

type AMQPPublisher struct {
	conn             *amqp.Connection
	channel          *amqp.Channel
	exchange         string
	routingKeyPrefix string
}

// NewAMQPPublisher dials the broker (with retry; brokers often come up
// after the monitor in compose environments) and declares a durable topic
// exchange.
func NewAMQPPublisher(amqpURL, exchange, routingKeyPrefix string) (*AMQPPublisher, error) {
	var lastErr error
	for i := 0; i < connectRetries; i++ {
		conn, err := amqp.Dial(amqpURL)
		if err != nil {
			lastErr = err
			logger.Log.Warnw("AMQP connect failed, retrying",
				"attempt", i+1,
				"max_attempts", connectRetries,
				"error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("amqp channel: %w", err)
		}

		if err := ch.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("amqp exchange declare: %w", err)
		}

		logger.Log.Infow("connected to AMQP broker", "exchange", exchange)
		return &AMQPPublisher{
			conn:             conn,
			channel:          ch,
			exchange:         exchange,
			routingKeyPrefix: routingKeyPrefix,
		}, nil
	}
	return nil, fmt.Errorf("amqp connect after %d attempts: %w", connectRetries, lastErr)
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	routingKey := p.routingKeyPrefix + key
	err := p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/octet-stream",
			Timestamp:   time.Now(),
			Body:        payload,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
