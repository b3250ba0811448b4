// internal/pkg/mq/mq.go
package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter 创建按消息 Key 做 hash 分区的 writer。
// 同一 store×product 的事件会落在同一分区，保证消费侧有序。
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewReader 创建带消费组的 reader，位点由调用方显式提交。
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// ProduceMessage 发送单条消息。
func ProduceMessage(ctx context.Context, writer *kafka.Writer, key, value []byte) error {
	return writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}
