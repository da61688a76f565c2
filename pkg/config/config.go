package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Timezone   string `mapstructure:"TIMEZONE"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Path           string `mapstructure:"PATH"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Blockchain Blockchain `mapstructure:"BLOCKCHAIN"`
	Earnings   Earnings   `mapstructure:"EARNINGS"`
	Queue      Queue      `mapstructure:"QUEUE"`
	Settings   struct {
		CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
	} `mapstructure:"SETTINGS"`
}

type Blockchain struct {
	Network          string        `mapstructure:"NETWORK"`
	RPCURL           string        `mapstructure:"RPC_URL"`
	TokenContract    string        `mapstructure:"TOKEN_CONTRACT"`
	TokenDecimals    int32         `mapstructure:"TOKEN_DECIMALS"`
	MinConfirmations uint64        `mapstructure:"MIN_CONFIRMATIONS"`
	RPCTimeout       time.Duration `mapstructure:"RPC_TIMEOUT"`
}

// Earnings holds the accrual knobs. CashbackDays is the only place the
// cashback/potential boundary is defined.
type Earnings struct {
	CashbackDays int    `mapstructure:"CASHBACK_DAYS"`
	Cron         string `mapstructure:"CRON"`
}

type Queue struct {
	AccrualConcurrency    int           `mapstructure:"ACCRUAL_CONCURRENCY"`
	ValidationConcurrency int           `mapstructure:"VALIDATION_CONCURRENCY"`
	MaxRetry              int           `mapstructure:"MAX_RETRY"`
	BackoffBase           time.Duration `mapstructure:"BACKOFF_BASE"`
	Retention             time.Duration `mapstructure:"RETENTION"`
	CleanupCron           string        `mapstructure:"CLEANUP_CRON"`
	ExpiryCron            string        `mapstructure:"EXPIRY_CRON"`
	ValidationDelay       time.Duration `mapstructure:"VALIDATION_DELAY"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "license-accrual")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.HOST", "127.0.0.1")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "license_accrual")
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.PATH", "license-accrual.db")
	v.SetDefault("DATABASE.METRICS", false)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("FLAGSMITH.ADDR", "")
	v.SetDefault("FLAGSMITH.API_KEY", "")
	v.SetDefault("BLOCKCHAIN.NETWORK", "")
	v.SetDefault("BLOCKCHAIN.RPC_URL", "")
	v.SetDefault("BLOCKCHAIN.TOKEN_CONTRACT", "")
	v.SetDefault("BLOCKCHAIN.TOKEN_DECIMALS", 18)
	v.SetDefault("BLOCKCHAIN.MIN_CONFIRMATIONS", 3)
	v.SetDefault("BLOCKCHAIN.RPC_TIMEOUT", 10*time.Second)
	v.SetDefault("EARNINGS.CASHBACK_DAYS", 10)
	v.SetDefault("EARNINGS.CRON", "@every 1h")
	v.SetDefault("QUEUE.ACCRUAL_CONCURRENCY", 1)
	v.SetDefault("QUEUE.VALIDATION_CONCURRENCY", 3)
	v.SetDefault("QUEUE.MAX_RETRY", 3)
	v.SetDefault("QUEUE.BACKOFF_BASE", 30*time.Second)
	v.SetDefault("QUEUE.RETENTION", 24*time.Hour)
	v.SetDefault("QUEUE.CLEANUP_CRON", "@every 6h")
	v.SetDefault("QUEUE.EXPIRY_CRON", "@every 5m")
	v.SetDefault("SETTINGS.CACHE_TTL", 30*time.Second)
}

// LoadConfig reads config.yaml from the working directory when present and
// lets environment variables override any key (DATABASE.HOST -> DATABASE_HOST).
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Location resolves TIMEZONE, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
