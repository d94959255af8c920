package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Automation AutomationConfig `mapstructure:"automation"`
	AI         AIConfig         `mapstructure:"ai"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenExpiry   int    `mapstructure:"token_expiry"`
	AdminUser     string `mapstructure:"admin_user"`
	AdminPassword string `mapstructure:"admin_password"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	PingInterval int `mapstructure:"ping_interval"`
	PongTimeout  int `mapstructure:"pong_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// AutomationConfig contains automation engine configuration
type AutomationConfig struct {
	Timezone         string `mapstructure:"timezone"`
	ExecutionTimeout string `mapstructure:"execution_timeout"`
	EventBufferSize  int    `mapstructure:"event_buffer_size"`
}

// AIConfig contains AI collaborator configuration
type AIConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	URL          string `mapstructure:"url"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
	Timeout      string `mapstructure:"timeout"`
}

// MQTTConfig contains protocol adapter broker configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// RetentionConfig controls cleanup of history and execution logs
type RetentionConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	HistoryMaxAge   string `mapstructure:"history_max_age"`
	LogMaxAge       string `mapstructure:"log_max_age"`
	CleanupInterval string `mapstructure:"cleanup_interval"`
}

// Load reads configuration from config.yaml plus environment overrides
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()

	viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("mqtt.broker", "MQTT_BROKER")
	viper.BindEnv("mqtt.username", "MQTT_USERNAME")
	viper.BindEnv("mqtt.password", "MQTT_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file is optional; defaults plus env are enough for development
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")

	viper.SetDefault("database.path", "./data/haven.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 25)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.token_expiry", 1800)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("websocket.ping_interval", 30)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)

	viper.SetDefault("automation.timezone", "UTC")
	viper.SetDefault("automation.execution_timeout", "60s")
	viper.SetDefault("automation.event_buffer_size", 256)

	viper.SetDefault("ai.enabled", false)
	viper.SetDefault("ai.url", "https://api.openai.com/v1")
	viper.SetDefault("ai.default_model", "gpt-4o-mini")
	viper.SetDefault("ai.max_tokens", 2048)
	viper.SetDefault("ai.timeout", "30s")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.client_id", "haven-backend")
	viper.SetDefault("mqtt.topic_prefix", "haven")

	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.history_max_age", "2160h")
	viper.SetDefault("retention.log_max_age", "720h")
	viper.SetDefault("retention.cleanup_interval", "12h")
}
