package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	grpcclient "github.com/EternisAI/fleetwatch/internal/grpc/client"
	"github.com/EternisAI/fleetwatch/internal/reporter"
)

type Config struct {
	Log   LogConfig
	Grpc  GrpcConfig
	Agent AgentConfig
}

type GrpcConfig struct {
	ServerAddress string               `mapstructure:"server_address"`
	APIKey        string               `mapstructure:"api_key"`
	TLS           grpcclient.TLSConfig `mapstructure:"tls"`
}

type AgentConfig struct {
	Name              string        `mapstructure:"name"`
	Location          string        `mapstructure:"location"`
	PublicAddress     string        `mapstructure:"public_address"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StatsInterval     time.Duration `mapstructure:"stats_interval"`
	DiskPath          string        `mapstructure:"disk_path"`
}

var config Config

func setDefaults() {
	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("grpc.server_address", "localhost:9090")
	viper.SetDefault("grpc.api_key", "")
	viper.SetDefault("grpc.tls.enabled", false)
	viper.SetDefault("grpc.tls.cert_file", "")
	viper.SetDefault("grpc.tls.key_file", "")
	viper.SetDefault("grpc.tls.ca_file", "")
	viper.SetDefault("grpc.tls.server_name_override", "")
	viper.SetDefault("agent.name", "")
	viper.SetDefault("agent.location", "")
	viper.SetDefault("agent.public_address", "")
	viper.SetDefault("agent.heartbeat_interval", reporter.DefaultHeartbeatInterval)
	viper.SetDefault("agent.stats_interval", reporter.DefaultStatsInterval)
	viper.SetDefault("agent.disk_path", "/")
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	setDefaults()
	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/fleetwatch-agent")
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

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
