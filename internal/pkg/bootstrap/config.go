// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 进程级配置。yaml 文件为主，少量环境变量可覆盖，
// 方便容器里不改文件只改 env。
type Config struct {
	Service struct {
		Name     string `yaml:"name"`
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"service"`

	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers    []string `yaml:"brokers"`
		EventTopic string   `yaml:"eventTopic"`
		GroupID    string   `yaml:"groupId"`
	} `yaml:"kafka"`

	Lock struct {
		Backend     string        `yaml:"backend"` // redis | zookeeper
		WaitTimeout time.Duration `yaml:"waitTimeout"`
		LeaseTime   time.Duration `yaml:"leaseTime"`
	} `yaml:"lock"`

	Zookeeper struct {
		Servers        []string      `yaml:"servers"`
		SessionTimeout time.Duration `yaml:"sessionTimeout"`
	} `yaml:"zookeeper"`

	Retry struct {
		MaxAttempts int           `yaml:"maxAttempts"`
		Interval    time.Duration `yaml:"interval"`
		Exponential bool          `yaml:"exponential"`
	} `yaml:"retry"`

	Breaker struct {
		FailureRatio float64       `yaml:"failureRatio"`
		MinRequests  uint32        `yaml:"minRequests"`
		ResetTimeout time.Duration `yaml:"resetTimeout"`
	} `yaml:"breaker"`

	Cache struct {
		AvailabilityTTL   time.Duration `yaml:"availabilityTTL"`
		LowStockThreshold int           `yaml:"lowStockThreshold"`
	} `yaml:"cache"`

	Sweeper struct {
		Interval time.Duration `yaml:"interval"`
		Batch    int           `yaml:"batch"`
	} `yaml:"sweeper"`

	Policy struct {
		AdjustmentRule string `yaml:"adjustmentRule"` // CEL 表达式，空则放行
	} `yaml:"policy"`

	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`

	Registry struct {
		Enabled   bool   `yaml:"enabled"`
		Addrs     string `yaml:"addrs"`
		Namespace string `yaml:"namespace"`
		Group     string `yaml:"group"`
	} `yaml:"registry"`
}

var (
	currentConfig *Config
	configOnce    sync.Once
)

// Init 加载配置，进程启动时调用一次。路径取 CONFIG_PATH，
// 缺省 configs/config.yaml。
func Init() {
	configOnce.Do(func() {
		path := getEnv("CONFIG_PATH", "configs/config.yaml")
		cfg, err := loadConfig(path)
		if err != nil {
			panic(fmt.Sprintf("failed to load config from %s: %v", path, err))
		}
		currentConfig = cfg
	})
}

// GetCurrentConfig 返回进程配置，必须先 Init。
func GetCurrentConfig() *Config {
	if currentConfig == nil {
		panic("bootstrap.Init must be called before GetCurrentConfig")
	}
	return currentConfig
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Registry.Addrs = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "redis"
	}
	if cfg.Lock.WaitTimeout <= 0 {
		cfg.Lock.WaitTimeout = 30 * time.Second
	}
	if cfg.Lock.LeaseTime <= 0 {
		cfg.Lock.LeaseTime = 60 * time.Second
	}
	if cfg.Cache.AvailabilityTTL <= 0 {
		cfg.Cache.AvailabilityTTL = 30 * time.Second
	}
	if cfg.Cache.LowStockThreshold <= 0 {
		cfg.Cache.LowStockThreshold = 10
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = time.Minute
	}
	if cfg.Sweeper.Batch <= 0 {
		cfg.Sweeper.Batch = 100
	}
	if cfg.Kafka.EventTopic == "" {
		cfg.Kafka.EventTopic = "inventory-events"
	}
}

// getEnv 从环境变量读取配置，带缺省值。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
