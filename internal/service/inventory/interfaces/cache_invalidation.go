// internal/service/inventory/interfaces/cache_invalidation.go
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"stocknexus/internal/service/inventory/domain"
)

var tracer = otel.Tracer("cache-invalidation")

// CacheInvalidationConsumer 监听库存事件主题，凡是带台账坐标的事件
// 都把对应的可用性缓存键删掉。写路径自身不碰缓存，
// 失效延迟由事件链（及 TTL 兜底）决定。
type CacheInvalidationConsumer struct {
	reader *kafka.Reader
	cache  domain.Cache
}

func NewCacheInvalidationConsumer(reader *kafka.Reader, cache domain.Cache) *CacheInvalidationConsumer {
	return &CacheInvalidationConsumer{reader: reader, cache: cache}
}

// 事件信封里只关心坐标字段
type eventEnvelope struct {
	Type      string `json:"type"`
	ProductID string `json:"productId"`
	StoreID   string `json:"storeId"`
}

// Start 长期运行，ctx 取消时退出。位点在缓存删除成功后才提交，
// 处理失败的消息会被重投，删除是幂等的。
func (c *CacheInvalidationConsumer) Start(ctx context.Context) error {
	log.Info().Str("topic", c.reader.Config().Topic).Msg("cache invalidation consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("cache invalidation consumer shutting down")
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			log.Error().Err(err).Str("key", string(msg.Key)).Msg("failed to invalidate availability cache")
			continue // 不提交位点，等重投
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit offset: %w", err)
		}
	}
}

func (c *CacheInvalidationConsumer) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := tracer.Start(ctx, "cache.Invalidate", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var ev eventEnvelope
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// 消息坏了重投也没用，记日志后照常提交位点跳过
		log.Error().Err(err).Str("key", string(msg.Key)).Msg("failed to decode inventory event, skipping")
		return nil
	}
	if ev.ProductID == "" || ev.StoreID == "" {
		return nil
	}
	return c.cache.Delete(ctx, fmt.Sprintf("availability:%s:%s", ev.ProductID, ev.StoreID))
}

func (c *CacheInvalidationConsumer) Close() error {
	return c.reader.Close()
}
