package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN            string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL            string `env:"RABBITMQ_URL,required=true"`
	RedisURL               string `env:"REDIS_URL,required=true"`
	APIPort                int    `env:"API_PORT,default=8080"`
	LogLevel               string `env:"LOG_LEVEL,default=info"`
	DeliveryTimeoutSeconds int    `env:"DELIVERY_TIMEOUT_SECONDS,default=5"`
	DispatchConcurrency    int    `env:"DISPATCH_CONCURRENCY,default=8"`
	WorkerConcurrency      int    `env:"WORKER_CONCURRENCY,default=4"`
	RateLimitPerSec        int    `env:"RATE_LIMIT_PER_SEC,default=50"`
	SweepIntervalSeconds   int    `env:"SWEEP_INTERVAL_SECONDS,default=60"`
	SweepMaxAgeSeconds     int    `env:"SWEEP_MAX_AGE_SECONDS,default=300"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
