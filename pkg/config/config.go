package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ORDERSHOP"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     LogConfig     `mapstructure:"log"`
	Order   OrderConfig   `mapstructure:"order"`
	Actor   ActorConfig   `mapstructure:"actor"`
	Events  EventsConfig  `mapstructure:"events"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type MongoDBConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type GatewayConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	// OrderServiceName is the etcd name looked up before falling back to OrderServiceAddr.
	OrderServiceName string        `mapstructure:"order_service_name"`
	OrderServiceAddr string        `mapstructure:"order_service_addr"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// OrderConfig holds the pricing defaults and paging limits of the order engine.
type OrderConfig struct {
	DefaultTaxRate        float64 `mapstructure:"default_tax_rate"`
	FreeShippingThreshold float64 `mapstructure:"free_shipping_threshold"`
	FlatShippingCost      float64 `mapstructure:"flat_shipping_cost"`
	DefaultPageSize       int     `mapstructure:"default_page_size"`
	MaxPageSize           int     `mapstructure:"max_page_size"`
	ConflictRetries       int     `mapstructure:"conflict_retries"`
}

type ActorConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type EventsConfig struct {
	Driver         string        `mapstructure:"driver"` // none, kafka, rabbitmq
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	AMQPURL        string        `mapstructure:"amqp_url"`
	Queue          string        `mapstructure:"queue"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	OrderTTL time.Duration `mapstructure:"order_ttl"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mysql, memory
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "order-service")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 50052)

	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/services/")
	v.SetDefault("etcd.lease_ttl", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 50)

	v.SetDefault("mongodb.collection", "order_audit_logs")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.order_service_name", "order-service")
	v.SetDefault("gateway.order_service_addr", "localhost:50052")
	v.SetDefault("gateway.request_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})

	v.SetDefault("order.default_tax_rate", 0.20)
	v.SetDefault("order.free_shipping_threshold", 100.0)
	v.SetDefault("order.flat_shipping_cost", 9.99)
	v.SetDefault("order.default_page_size", 10)
	v.SetDefault("order.max_page_size", 100)
	v.SetDefault("order.conflict_retries", 3)

	v.SetDefault("actor.request_timeout", 30*time.Second)

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.topic", "order-events")
	v.SetDefault("events.queue", "order-events")
	v.SetDefault("events.publish_timeout", 5*time.Second)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.order_ttl", 10*time.Minute)

	v.SetDefault("storage.driver", "mysql")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// ORDERSHOP_MYSQL_HOST overrides mysql.host
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the order engine cannot run with.
func (c *Config) Validate() error {
	if c.Order.DefaultTaxRate < 0 {
		return fmt.Errorf("invalid config: order.default_tax_rate must be >= 0, got %v", c.Order.DefaultTaxRate)
	}
	if c.Order.FlatShippingCost < 0 || c.Order.FreeShippingThreshold < 0 {
		return fmt.Errorf("invalid config: shipping settings must be >= 0")
	}
	if c.Order.DefaultPageSize <= 0 || c.Order.MaxPageSize < c.Order.DefaultPageSize {
		return fmt.Errorf("invalid config: page sizes default=%d max=%d", c.Order.DefaultPageSize, c.Order.MaxPageSize)
	}
	if c.Order.ConflictRetries < 0 {
		return fmt.Errorf("invalid config: order.conflict_retries must be >= 0")
	}
	switch c.Storage.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("invalid config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Events.Driver {
	case "", "none", "kafka", "rabbitmq":
	default:
		return fmt.Errorf("invalid config: unknown events driver %q", c.Events.Driver)
	}
	return nil
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
