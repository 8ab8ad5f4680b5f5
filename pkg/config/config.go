package config

import (
	"strings"
	"time"

	"github.com/84hero/lockhook/internal/mailer"
	"github.com/spf13/viper"
)

type Config struct {
	Project     string            `mapstructure:"project"`
	Log         LogConfig         `mapstructure:"log"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Locksmith   LocksmithConfig   `mapstructure:"locksmith"`
	Mail        mailer.Config     `mapstructure:"mail"`
	MailingList MailingListConfig `mapstructure:"mailing_list"`
	Sinks       SinksConfig       `mapstructure:"sinks"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type RelayConfig struct {
	Network     int    `mapstructure:"network"`      // Chain ID of the lock
	LockAddress string `mapstructure:"lock_address"` // Lock contract this relay cares about
	CallbackURL string `mapstructure:"callback_url"` // Public URL of our /callback endpoint
	HubSecret   string `mapstructure:"hub_secret"`   // Shared secret for the WebSub handshake
	ListenAddr  string `mapstructure:"listen_addr"`

	// Inbound rate limit. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
	RateBurst int     `mapstructure:"rate_burst"`
}

type LocksmithConfig struct {
	// BaseURL overrides the network preset when set (e.g., a staging locksmith).
	BaseURL string `mapstructure:"base_url"`

	// SignerKey is the hex-encoded secp256k1 private key used for the
	// sign-in exchange. Lookups fail gracefully when unset.
	SignerKey string `mapstructure:"signer_key"`

	// TokenTTL is the server-side token lifetime. The cached credential
	// expires one hour earlier to absorb clock skew.
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	Timeout time.Duration `mapstructure:"timeout"`
}

type MailingListConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	ListID  string `mapstructure:"list_id"`
}

type SinksConfig struct {
	Console  ConsoleSinkConfig  `mapstructure:"console"`
	File     FileSinkConfig     `mapstructure:"file"`
	Webhook  WebhookSinkConfig  `mapstructure:"webhook"`
	Redis    RedisSinkConfig    `mapstructure:"redis"`
	Kafka    KafkaSinkConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQSinkConfig `mapstructure:"rabbitmq"`
}

type ConsoleSinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type FileSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type WebhookSinkConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Secret         string        `mapstructure:"secret"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type RedisSinkConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Mode     string `mapstructure:"mode"` // list, pubsub
}

type KafkaSinkConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type RabbitMQSinkConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	QueueName  string `mapstructure:"queue_name"`
	Durable    bool   `mapstructure:"durable"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Relay.Network == 0 {
		cfg.Relay.Network = 1
	}
	if cfg.Relay.ListenAddr == "" {
		cfg.Relay.ListenAddr = ":8080"
	}
	if cfg.Relay.RateBurst == 0 {
		cfg.Relay.RateBurst = 10
	}
	if cfg.Locksmith.TokenTTL == 0 {
		cfg.Locksmith.TokenTTL = 24 * time.Hour
	}
	if cfg.Locksmith.Timeout == 0 {
		cfg.Locksmith.Timeout = 10 * time.Second
	}

	return &cfg, nil
}
