package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL       string `envconfig:"AMQP_URL"`
	AlarmExchange string `envconfig:"ALARM_EXCHANGE" default:"alarms"`

	// Schema задаёт имена коллекций хранилища явно, вместо глобального
	// реестра схемы.
	Schema struct {
		Timelines   string `envconfig:"SCHEMA_TIMELINES" default:"timelines"`
		Timeline    string `envconfig:"SCHEMA_TIMELINE" default:"timeline"`
		Impressions string `envconfig:"SCHEMA_IMPRESSIONS" default:"impressions"`
		Contents    string `envconfig:"SCHEMA_CONTENTS" default:"htmls"`
		Refreshes   string `envconfig:"SCHEMA_REFRESHES" default:"refreshes"`
		Alarms      string `envconfig:"SCHEMA_ALARMS" default:"alarms"`
	} `envconfig:""`

	Limits struct {
		TimelineWindows  int `envconfig:"TIMELINE_WINDOWS" default:"6"`
		ImpressionsCap   int `envconfig:"IMPRESSIONS_CAP" default:"20"`
		WindowGraceMin   int `envconfig:"WINDOW_GRACE_MINUTES" default:"10"`
		RealityGraceMin  int `envconfig:"REALITY_GRACE_MINUTES" default:"2"`
		FanoutLimit      int `envconfig:"FANOUT_LIMIT" default:"8"`
		MetaCacheTTLMin  int `envconfig:"META_CACHE_TTL_MINUTES" default:"15"`
		CountryCutoffMin int `envconfig:"COUNTRY_CUTOFF_MIN" default:"10"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
