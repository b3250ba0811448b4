// cmd/stock-watch-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"stocknexus/internal/pkg/bootstrap"
	"stocknexus/internal/pkg/logger"
	"stocknexus/internal/pkg/mq"
)

const serviceName = "stock-watch-gateway"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 维护所有活跃的订阅连接，按商品号分组广播库存事件。
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // productID -> 订阅者集合
	register   chan *Client
	unregister chan *Client
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run(ctx context.Context) error {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.productID] == nil {
				h.clients[client.productID] = make(map[*Client]struct{})
			}
			h.clients[client.productID][client] = struct{}{}
			h.mu.Unlock()
			log.Info().Str("product_id", client.productID).Msg("watch client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if subs, ok := h.clients[client.productID]; ok {
				if _, ok := subs[client]; ok {
					delete(subs, client)
					close(client.send)
					if len(subs) == 0 {
						delete(h.clients, client.productID)
					}
				}
			}
			h.mu.Unlock()
			log.Info().Str("product_id", client.productID).Msg("watch client unregistered")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// broadcast 把一条事件推给该商品的所有订阅者。慢客户端直接踢掉，
// 不能让一个堵塞的连接拖垮整条广播路径。
func (h *Hub) broadcast(productID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[productID] {
		select {
		case client.send <- payload:
		default:
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

// Client 是一条 WebSocket 订阅连接。
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	productID string
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// 订阅是只读的，收到任何数据都只用于刷新心跳
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		http.Error(w, "productId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), productID: productID}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// 只透传带台账坐标的事件
type eventEnvelope struct {
	Type      string `json:"type"`
	ProductID string `json:"productId"`
	StoreID   string `json:"storeId"`
}

// consumeEvents 消费库存事件主题，把事件原样推给对应商品的订阅者。
func consumeEvents(ctx context.Context, hub *Hub, brokers []string, groupID, topic string) error {
	reader := mq.NewReader(brokers, groupID, topic)
	defer reader.Close()

	log.Info().Str("topic", topic).Msg("stock watch consumer started")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var ev eventEnvelope
		if err := json.Unmarshal(msg.Value, &ev); err == nil && ev.ProductID != "" {
			hub.broadcast(ev.ProductID, msg.Value)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	logger.Init(serviceName, cfg.Service.LogLevel)

	hub := newHub()
	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return hub.run(gctx) })
	g.Go(func() error {
		return consumeEvents(gctx, hub, cfg.Kafka.Brokers, serviceName, cfg.Kafka.EventTopic)
	})

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, w, r)
			})
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				cancel()
				if err := g.Wait(); err != nil && err != context.Canceled {
					log.Error().Err(err).Msg("gateway worker exited with error")
				}
			},
		},
	})
}
