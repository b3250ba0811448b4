// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client 在 go-redis 之上加了一层按名字管理的 Lua 脚本注册表。
// 脚本在初始化时注册一次，运行时通过 RunScript 以 EVALSHA 优先执行。
type Client struct {
	rdb *redis.Client

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb, scripts: make(map[string]*redis.Script)}, nil
}

// GetClient 暴露底层客户端，给需要 pipeline 等原生能力的调用方。
func (c *Client) GetClient() *redis.Client { return c.rdb }

// LoadScriptFromContent 注册一段具名 Lua 脚本。重复注册会覆盖。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return fmt.Errorf("script %q has empty content", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = redis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本。go-redis 的 Script 会先尝试 EVALSHA，
// NOSCRIPT 时自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lua script %q is not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) Close() error { return c.rdb.Close() }
