// internal/service/inventory/infrastructure/kafka_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"stocknexus/internal/pkg/mq"
	"stocknexus/internal/service/inventory/domain"
)

// KafkaEventPublisher 把领域事件序列化后投递到库存事件主题。
// 消息 Key 是 productId:storeId，同一台账的事件保证分区内有序。
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

func NewKafkaEventPublisher(writer *kafka.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(event.Key()), payload)
}

func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
