package mq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// Package-level singleton instance
var producerInstance *KafkaProducer

// Init initializes the Kafka producer singleton with config.
func Init(cfg KafkaConfig) error {
	if !cfg.Enabled {
		return nil
	}
	producer, err := NewKafkaProducer(cfg)
	if err != nil {
		return err
	}
	producerInstance = producer
	return nil
}

// NewQueue returns the singleton Kafka producer instance.
// Returns nil if Kafka is not enabled or not initialized.
func NewQueue() *KafkaProducer {
	return producerInstance
}

// Close closes the singleton producer.
func Close() error {
	if producerInstance == nil {
		return nil
	}
	err := producerInstance.Close()
	producerInstance = nil
	return err
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	logger *slog.Logger
	client sarama.SyncProducer
}

// 确保 KafkaProducer 实现 MessageQueue 接口
var _ MessageQueue = (*KafkaProducer)(nil)

// NewKafkaProducer 创建 Kafka 生产者
func NewKafkaProducer(config KafkaConfig) (*KafkaProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3

	client, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return NewKafkaProducerWithClient(client), nil
}

// NewKafkaProducerWithClient wraps an existing sarama producer.
func NewKafkaProducerWithClient(client sarama.SyncProducer) *KafkaProducer {
	return &KafkaProducer{
		logger: slog.Default().With("module", "kafka-producer"),
		client: client,
	}
}

// Publish 发布消息
func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, message []byte) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(message),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.client.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Debug("message sent",
		"topic", topic,
		"partition", partition,
		"offset", offset,
	)

	return nil
}

// Close 关闭生产者
func (p *KafkaProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Subscribe 订阅（Producer 不支持，仅用于满足 MessageQueue 接口）
func (p *KafkaProducer) Subscribe(topic string, handler func(message []byte) error) error {
	return fmt.Errorf("kafka producer does not support subscribe, use KafkaConsumer instead")
}
