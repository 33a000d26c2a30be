package sink

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"OpenMCP-ChainManager/internal/events"
)

// RabbitMQConfig 描述 RabbitMQ 交换机的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQSink publishes envelopes to a topic exchange, routed by event name.
type RabbitMQSink struct {
	conn     *amqp.Connection
	ch       amqpPublisher
	exchange string
	durable  bool
}

// NewRabbitMQSink 连接 RabbitMQ 并声明 topic 交换机。
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "chainmgr.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	s := newRabbitMQSink(ch, exchange, cfg.Durable)
	s.conn = conn
	return s, nil
}

func newRabbitMQSink(ch amqpPublisher, exchange string, durable bool) *RabbitMQSink {
	return &RabbitMQSink{ch: ch, exchange: exchange, durable: durable}
}

// Name implements Sink.
func (s *RabbitMQSink) Name() string { return "rabbitmq" }

// Publish implements Sink.
func (s *RabbitMQSink) Publish(ctx context.Context, env events.Envelope) error {
	if s == nil || s.ch == nil {
		return errors.New("RabbitMQ 交换机未初始化")
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.ID,
		Type:        env.Name,
		Timestamp:   env.EmittedAt,
		Body:        env.Payload,
	}
	if s.durable {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, env.Name, false, false, msg); err != nil {
		return fmt.Errorf("RabbitMQ 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (s *RabbitMQSink) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
