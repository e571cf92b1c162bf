package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	DB string `yaml:"db_dsn"`

	// Источники цен
	WSEndpoints []string `yaml:"ws_endpoints"`  // приоритетный список баз, первая — основная
	RestBaseURL string   `yaml:"rest_base_url"` // база для батч-снапшота цен

	// Интервалы шедулера
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ResyncInterval    time.Duration `yaml:"resync_interval"`
	RestPollInterval  time.Duration `yaml:"rest_poll_interval"`

	// Реконнект WS
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	ResubscribeDebounce time.Duration `yaml:"resubscribe_debounce"`

	HealthAddr string `yaml:"health_addr"`
	LogLevel   string `yaml:"log_level"`

	// Опциональный теле-нотифайер для опс-событий
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	JaegerHost string `yaml:"jaeger_host"`
	JaegerPort int    `yaml:"jaeger_port"`
}

func NewConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("WS_ENDPOINTS", "wss://stream.binance.com:9443,wss://data-stream.binance.vision")
	v.SetDefault("REST_BASE_URL", "https://api.binance.com")
	v.SetDefault("HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("RESYNC_INTERVAL", "5m")
	v.SetDefault("REST_POLL_INTERVAL", "10s")
	v.SetDefault("RECONNECT_BASE_DELAY", "1s")
	v.SetDefault("RECONNECT_MAX_DELAY", "60s")
	v.SetDefault("RESUBSCRIBE_DEBOUNCE", "500ms")
	v.SetDefault("HEALTH_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JAEGER_HOST", "127.0.0.1")
	v.SetDefault("JAEGER_PORT", 6831)

	config := Config{
		DB:                  v.GetString(databaseDSN),
		WSEndpoints:         splitEndpoints(v.GetString("WS_ENDPOINTS")),
		RestBaseURL:         v.GetString("REST_BASE_URL"),
		HeartbeatInterval:   v.GetDuration("HEARTBEAT_INTERVAL"),
		ResyncInterval:      v.GetDuration("RESYNC_INTERVAL"),
		RestPollInterval:    v.GetDuration("REST_POLL_INTERVAL"),
		ReconnectBaseDelay:  v.GetDuration("RECONNECT_BASE_DELAY"),
		ReconnectMaxDelay:   v.GetDuration("RECONNECT_MAX_DELAY"),
		ResubscribeDebounce: v.GetDuration("RESUBSCRIBE_DEBOUNCE"),
		HealthAddr:          v.GetString("HEALTH_ADDR"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		TelegramToken:       v.GetString("TELEGRAM_TOKEN"),
		TelegramChatID:      v.GetInt64("TELEGRAM_CHAT_ID"),
		JaegerHost:          v.GetString("JAEGER_HOST"),
		JaegerPort:          v.GetInt("JAEGER_PORT"),
	}

	// Файл не обязателен: без него живём на env и дефолтах.
	if configFileName := os.Getenv(configFilePathENV); configFileName != "" {
		file, err := os.Open(configFileName)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = file.Close()
		}()

		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return nil, err
		}
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	return &config, nil
}

// splitEndpoints режет список по запятой и выкидывает дубликаты,
// сохраняя приоритетный порядок.
func splitEndpoints(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "/"))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
