package http

import "time"

type Config struct {
	Port         uint          `mapstructure:"port"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	AdminAPIKey  string        `mapstructure:"admin_api_key"`
	IngestAPIKey string        `mapstructure:"ingest_api_key"`
}
