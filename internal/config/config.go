package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "INVENTORY"

type Config struct {
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HTTP            HTTPConfig    `mapstructure:"http"`
	GRPC            GRPCConfig    `mapstructure:"grpc"`
	Store           StoreConfig   `mapstructure:"store"`
	MySQL           MySQLConfig   `mapstructure:"mysql"`
	Redis           RedisConfig   `mapstructure:"redis"`
	Kafka           KafkaConfig   `mapstructure:"kafka"`
	Ledger          LedgerConfig  `mapstructure:"ledger"`
	Buy             BuyConfig     `mapstructure:"buy"`
	Search          SearchConfig  `mapstructure:"search"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // mysql | memory
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"` // empty disables idempotency keys
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"` // empty disables event publishing
	Topic   string   `mapstructure:"topic"`
}

type LedgerConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
}

type BuyConfig struct {
	PartialFailure string `mapstructure:"partial_failure"` // keep | compensate
}

type SearchConfig struct {
	Limit int `mapstructure:"limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("shutdown_timeout", 5*time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("grpc.addr", ":50051")

	v.SetDefault("store.driver", "mysql")
	v.SetDefault("mysql.dsn", "root:root@tcp(localhost:3306)/inventory?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 25)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "inventory.stock")

	v.SetDefault("ledger.max_attempts", 5)
	v.SetDefault("ledger.initial_backoff", 10*time.Millisecond)
	v.SetDefault("ledger.max_backoff", 200*time.Millisecond)
	v.SetDefault("ledger.max_elapsed", 2*time.Second)

	v.SetDefault("buy.partial_failure", "keep")
	v.SetDefault("search.limit", 50)
}

// Load reads .env (if present), then config.yaml from ./config or the working
// directory (if present), then INVENTORY_* environment variables, e.g.
// INVENTORY_MYSQL_DSN overrides mysql.dsn.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("mysql.dsn is required for the mysql store")
		}
	case "memory":
		if c.IsProduction() {
			return errors.New("store.driver memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if c.Ledger.MaxAttempts < 1 {
		return errors.New("ledger.max_attempts must be at least 1")
	}
	if c.Ledger.InitialBackoff < 0 || c.Ledger.MaxBackoff < c.Ledger.InitialBackoff {
		return errors.New("ledger backoff window is invalid")
	}

	switch c.Buy.PartialFailure {
	case "keep", "compensate":
	default:
		return fmt.Errorf("unknown buy.partial_failure %q", c.Buy.PartialFailure)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// splitList accepts both a YAML list and a comma-separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
