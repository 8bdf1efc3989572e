package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/EternisAI/fleetwatch/internal/analytics"
	"github.com/EternisAI/fleetwatch/internal/api/http"
	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/connectivity"
	"github.com/EternisAI/fleetwatch/internal/db"
	"github.com/EternisAI/fleetwatch/internal/feed"
	grpctls "github.com/EternisAI/fleetwatch/internal/grpc/tls"
	"github.com/EternisAI/fleetwatch/internal/notify"
)

type Config struct {
	Log          LogConfig
	Http         http.Config
	Auth         AuthConfig
	Grpc         GrpcConfig
	Store        StoreConfig
	Connectivity ConnectivityConfig
	Analytics    AnalyticsConfig
	Feed         FeedConfig
	Redis        RedisConfig
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type GrpcConfig struct {
	Port int                  `mapstructure:"port"`
	TLS  grpctls.ServerConfig `mapstructure:"tls"`
}

// StoreConfig selects the event store. Driver is postgres, sqlite or memory.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	Url        string `mapstructure:"url"`
	Schema     string `mapstructure:"schema"`
	MaxConns   int32  `mapstructure:"max_conns"`
	SqlitePath string `mapstructure:"sqlite_path"`
}

func (s StoreConfig) DB() db.Config {
	return db.Config{Url: s.Url, Schema: s.Schema, MaxConns: s.MaxConns}
}

type ConnectivityConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MissedBeats       int           `mapstructure:"missed_beats"`
	SkewTolerance     time.Duration `mapstructure:"skew_tolerance"`
	AlertSevereAfter  time.Duration `mapstructure:"alert_severe_after"`
}

func (c ConnectivityConfig) Policy() connectivity.Policy {
	return connectivity.Policy{
		HeartbeatInterval: c.HeartbeatInterval,
		MissedBeats:       c.MissedBeats,
		SkewTolerance:     c.SkewTolerance,
		SevereAfter:       c.AlertSevereAfter,
	}
}

type AnalyticsConfig struct {
	MaxWindow   time.Duration `mapstructure:"max_window"`
	DefaultTopN int           `mapstructure:"default_top_n"`
}

type FeedConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	QueueSize    int           `mapstructure:"queue_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxBacklog   time.Duration `mapstructure:"max_backlog"`
}

func (f FeedConfig) Distributor() feed.Config {
	return feed.Config{
		PollInterval: f.PollInterval,
		QueueSize:    f.QueueSize,
		BatchSize:    f.BatchSize,
		MaxBacklog:   f.MaxBacklog,
	}
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

var config Config

func setDefaults() {
	policy := connectivity.DefaultPolicy()

	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.query_timeout", 30*time.Second)
	viper.SetDefault("http.admin_api_key", "")
	viper.SetDefault("http.ingest_api_key", "")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl", auth.DefaultTokenTTL)
	viper.SetDefault("grpc.port", 9090)
	viper.SetDefault("grpc.tls.enabled", false)
	viper.SetDefault("grpc.tls.cert_file", "")
	viper.SetDefault("grpc.tls.key_file", "")
	viper.SetDefault("grpc.tls.ca_file", "")
	viper.SetDefault("grpc.tls.client_auth", "none")
	viper.SetDefault("store.driver", "postgres")
	viper.SetDefault("store.url", "")
	viper.SetDefault("store.schema", "")
	viper.SetDefault("store.max_conns", 10)
	viper.SetDefault("store.sqlite_path", "fleetwatch.db")
	viper.SetDefault("connectivity.heartbeat_interval", policy.HeartbeatInterval)
	viper.SetDefault("connectivity.missed_beats", policy.MissedBeats)
	viper.SetDefault("connectivity.skew_tolerance", policy.SkewTolerance)
	viper.SetDefault("connectivity.alert_severe_after", policy.SevereAfter)
	viper.SetDefault("analytics.max_window", analytics.DefaultMaxWindow)
	viper.SetDefault("analytics.default_top_n", analytics.DefaultTopN)
	viper.SetDefault("feed.poll_interval", feed.DefaultPollInterval)
	viper.SetDefault("feed.queue_size", feed.DefaultQueueSize)
	viper.SetDefault("feed.batch_size", feed.DefaultBatchSize)
	viper.SetDefault("feed.max_backlog", feed.DefaultMaxBacklog)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.channel", notify.DefaultChannel)
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	setDefaults()
	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/fleetwatch-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	// Initialize logger with configured log level
	initLogger(config.Log.Level)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
