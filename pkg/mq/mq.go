package mq

import "context"

// Publisher 发布消息
type Publisher interface {
	// Publish sends message to topic. key selects the partition, may be empty.
	Publish(ctx context.Context, topic, key string, message []byte) error
}

// MessageQueue 消息队列接口
type MessageQueue interface {
	Publisher
	Subscribe(topic string, handler func(message []byte) error) error
	Close() error
}
