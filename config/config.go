package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bookery/bookery-service/internal/catalog"
	"github.com/bookery/bookery-service/pkg/kafka"
	"github.com/bookery/bookery-service/pkg/logger"
	"github.com/bookery/bookery-service/pkg/postgres"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"HTTP_HOST"`
	Port         string        `yaml:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"10s"`
	WriteTimeout time.Duration `yaml:"writeTimeout" envconfig:"HTTP_WRITE" default:"30s"`
}

type Config struct {
	Server        HTTPServer      `yaml:"server"`
	Database      postgres.Config `yaml:"database"`
	Kafka         kafka.Config    `yaml:"kafka"`
	Catalog       catalog.Config  `yaml:"catalog"`
	CacheCapacity int             `yaml:"cacheCapacity" envconfig:"CACHE_CAPACITY" default:"4096"`
	Log           logger.Log      `yaml:"log"`
}

type Option func(*Config)

func WithLogLevel(level zapcore.Level) Option {
	return func(c *Config) {
		c.Log.LogLevel = level
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = d
	}
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return &cfg
}

func printConfig(cfg Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
