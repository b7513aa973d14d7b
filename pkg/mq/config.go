package mq

import (
	"fmt"
	"slices"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled   bool             `toml:"enabled"`
	Brokers   []string         `toml:"brokers"`
	Consumers []ConsumerConfig `toml:"consumers"`
	// EventTopic 接收 embedding 事件，为空时不发布
	EventTopic string `toml:"event_topic"`
}

// ConsumerConfig 单个消费者配置
type ConsumerConfig struct {
	Name   string   `toml:"name"`   // 消费者名称（用于日志）
	Group  string   `toml:"group"`  // 消费组
	Topics []string `toml:"topics"` // 订阅的 topics
	Tenant string   `toml:"tenant"` // 事件写入的租户，为空时使用默认租户
}

// Validate 验证配置
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers is required when kafka is enabled")
	}
	for i, consumer := range c.Consumers {
		if consumer.Group == "" {
			return fmt.Errorf("consumers[%d].group is required", i)
		}
		if len(consumer.Topics) == 0 {
			return fmt.Errorf("consumers[%d].topics is required", i)
		}
		// 消费自己发布的 embedding 事件会无限循环
		if c.EventTopic != "" && slices.Contains(consumer.Topics, c.EventTopic) {
			return fmt.Errorf("consumers[%d].topics must not include event_topic %q", i, c.EventTopic)
		}
	}
	return nil
}
