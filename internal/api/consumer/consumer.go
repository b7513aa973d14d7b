package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/docstore/internal/eventstore"
	"github.com/Zereker/docstore/pkg/document"
	"github.com/Zereker/docstore/pkg/mq"
)

// StoreProvider returns the document store of a tenant.
type StoreProvider interface {
	Store(tenant string) (document.Store, error)
}

// Consumer 将 Kafka 消息持久化为事件
type Consumer struct {
	logger    *slog.Logger
	stores    StoreProvider
	consumers []*mq.KafkaConsumer
}

// Config 消费者配置
type Config struct {
	Kafka mq.KafkaConfig
}

// NewConsumer 创建消费者
func NewConsumer(stores StoreProvider, cfg Config) (*Consumer, error) {
	c := &Consumer{
		logger: slog.Default().With("module", "consumer"),
		stores: stores,
	}

	if !cfg.Kafka.Enabled {
		c.logger.Info("kafka disabled, consumer not started")
		return c, nil
	}

	for _, consumerCfg := range cfg.Kafka.Consumers {
		kc, err := mq.NewKafkaConsumer(cfg.Kafka.Brokers, consumerCfg, c.Handler(consumerCfg.Tenant))
		if err != nil {
			_ = c.Stop()
			return nil, fmt.Errorf("create consumer %s: %w", consumerCfg.Name, err)
		}
		c.consumers = append(c.consumers, kc)
	}

	return c, nil
}

// Handler returns the message handler persisting into tenant's event log.
// JSON objects are stored as-is; any other payload is kept under "raw".
// The source topic is recorded under "topic" unless the message has one.
func (c *Consumer) Handler(tenant string) mq.MessageHandler {
	return func(ctx context.Context, topic string, message []byte) error {
		store, err := c.stores.Store(tenant)
		if err != nil {
			return err
		}

		var event map[string]any
		if err := json.Unmarshal(message, &event); err != nil || event == nil {
			event = map[string]any{"raw": string(message)}
		}
		if _, ok := event["topic"]; !ok {
			event["topic"] = topic
		}

		doc, err := eventstore.PersistEvent(ctx, store, event)
		if err != nil {
			c.logger.Error("failed to persist event", "topic", topic, "error", err)
			return err
		}

		c.logger.Debug("event persisted", "topic", topic, "id", doc.ID)
		return nil
	}
}

// Start 启动所有消费者
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.consumers) == 0 {
		c.logger.Info("no consumers configured, skipping start")
		return nil
	}

	c.logger.Info("starting consumers", "count", len(c.consumers))

	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range c.consumers {
		g.Go(func() error {
			return consumer.Start(ctx)
		})
	}

	return g.Wait()
}

// Stop 停止所有消费者
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumers")

	for _, consumer := range c.consumers {
		if err := consumer.Stop(); err != nil {
			c.logger.Error("failed to stop consumer", "error", err)
		}
	}

	return nil
}
