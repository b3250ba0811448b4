// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stocknexus/internal/pkg/nacos"
	"stocknexus/internal/pkg/tracing"
)

type AppCtx struct {
	Mux *http.ServeMux
}

// AppInfo 包含了启动一个服务进程所需的特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)         // 每个服务注册自己的 HTTP 路由
	OnShutdown       []func(ctx context.Context) // 关停时按序执行的清理动作（后进先出）
}

// StartService 封装通用的启动与优雅关停逻辑:
// tracing -> (可选)注册中心 -> HTTP server -> 阻塞等待退出信号 -> 清理。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}

	var registry *nacos.Client
	var ip string
	if cfg.Registry.Enabled {
		registry, err = nacos.NewClient(cfg.Registry.Addrs, cfg.Registry.Namespace, cfg.Registry.Group)
		if err != nil {
			log.Fatalf("failed to initialize nacos client: %v", err)
		}
		ip, err = getOutboundIP()
		if err != nil {
			log.Fatalf("failed to get outbound IP address: %v", err)
		}
		if err := registry.Register(info.ServiceName, ip, info.Port); err != nil {
			log.Fatalf("failed to register service with nacos: %v", err)
		}
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		log.Printf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v\n", server.Addr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if registry != nil {
		if err := registry.Deregister(info.ServiceName, ip, info.Port); err != nil {
			log.Printf("Error deregistering from nacos: %v", err)
		}
	}

	// 后进先出执行清理，先停消费者/清扫器，再关数据库等底层资源
	for i := len(info.OnShutdown) - 1; i >= 0; i-- {
		info.OnShutdown[i](ctx)
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down tracer provider: %v", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down http server: %v", err)
	}
	log.Printf("Service %s gracefully shut down.", info.ServiceName)
}

// getOutboundIP 取本机对外通信用的 IP，用于服务注册。
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
