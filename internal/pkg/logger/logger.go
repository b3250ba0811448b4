// internal/pkg/logger/logger.go
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog。各包直接用 zerolog/log 的包级 logger，
// 这里只负责在进程启动时统一级别、时间格式和服务名字段。
func Init(serviceName, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zlog.Logger = zerolog.New(os.Stderr).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
