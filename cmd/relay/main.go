package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/84hero/lockhook/internal/mailer"
	"github.com/84hero/lockhook/internal/server"
	"github.com/84hero/lockhook/internal/webhook"
	"github.com/84hero/lockhook/pkg/auth"
	"github.com/84hero/lockhook/pkg/chain"
	"github.com/84hero/lockhook/pkg/config"
	"github.com/84hero/lockhook/pkg/hub"
	"github.com/84hero/lockhook/pkg/locksmith"
	"github.com/84hero/lockhook/pkg/notify"
	"github.com/84hero/lockhook/pkg/processor"
	"github.com/84hero/lockhook/pkg/sink"
	"github.com/84hero/lockhook/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
)

func main() {
	if err := Run(context.Background()); err != nil && err != context.Canceled {
		log.Crit("Application failed", "err", err)
		os.Exit(1)
	}
}

// Run is the testable entry point of the relay.
func Run(ctx context.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Setup Logger
	logLevel := log.LevelInfo
	if cfg.Log.Level == "debug" {
		logLevel = log.LevelDebug
	} else if cfg.Log.Level == "warn" {
		logLevel = log.LevelWarn
	} else if cfg.Log.Level == "error" {
		logLevel = log.LevelError
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, logLevel, true)))

	// Network presets fill in whatever the config leaves out
	preset, ok := chain.Get(cfg.Relay.Network)
	if !ok {
		log.Warn("Unknown network, using mainnet endpoints", "network", cfg.Relay.Network)
		preset, _ = chain.Get(1)
	}
	locksmithURL := cfg.Locksmith.BaseURL
	if locksmithURL == "" {
		locksmithURL = preset.Locksmith
	}

	// Components
	creds, err := auth.NewManager(auth.Config{
		Endpoint:  locksmithURL + "/v2/auth/login",
		SignerKey: cfg.Locksmith.SignerKey,
		ChainID:   cfg.Relay.Network,
		Origin:    cfg.Relay.CallbackURL,
		TokenTTL:  cfg.Locksmith.TokenTTL,
		Timeout:   cfg.Locksmith.Timeout,
	})
	if err != nil {
		return err
	}

	resolver := locksmith.NewResolver(creds, locksmithURL, cfg.Relay.Network, cfg.Relay.LockAddress, cfg.Locksmith.Timeout)

	hubController := hub.NewController(hub.Config{
		HubURL:      preset.Hub,
		Network:     cfg.Relay.Network,
		LockAddress: cfg.Relay.LockAddress,
		CallbackURL: cfg.Relay.CallbackURL,
		Secret:      cfg.Relay.HubSecret,
	})

	listClient := notify.NewMailingListClient(notify.MailingListConfig{
		BaseURL: cfg.MailingList.BaseURL,
		APIKey:  cfg.MailingList.APIKey,
		ListID:  cfg.MailingList.ListID,
	})
	notifier := notify.NewNotifier(mailer.NewSMTPMailer(cfg.Mail), listClient, cfg.Mail.To)

	outputs := initSinks(cfg)
	defer func() {
		for _, o := range outputs {
			o.Close()
		}
	}()

	seen := storage.NewMemorySeen(cfg.Project + "_")
	proc := processor.New(cfg.Relay.Network, cfg.Relay.LockAddress, resolver, notifier, seen, outputs)

	srv := server.NewServer(server.Config{
		ListenAddr:  cfg.Relay.ListenAddr,
		Network:     cfg.Relay.Network,
		LockAddress: cfg.Relay.LockAddress,
		CallbackURL: cfg.Relay.CallbackURL,
		HubSecret:   cfg.Relay.HubSecret,
		RateLimit:   cfg.Relay.RateLimit,
		RateBurst:   cfg.Relay.RateBurst,
	}, hubController, proc, creds)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Relay listening", "addr", cfg.Relay.ListenAddr, "network", cfg.Relay.Network, "lock", cfg.Relay.LockAddress)
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Shutting down...")
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func initSinks(cfg *config.Config) []sink.Output {
	var outputs []sink.Output

	// Console
	if cfg.Sinks.Console.Enabled {
		outputs = append(outputs, sink.NewConsoleOutput())
	}

	// File
	if cfg.Sinks.File.Enabled {
		if fo, err := sink.NewFileOutput(cfg.Sinks.File.Path); err == nil {
			outputs = append(outputs, fo)
		} else {
			log.Warn("File sink disabled", "err", err)
		}
	}

	// Webhook
	if cfg.Sinks.Webhook.Enabled {
		outputs = append(outputs, sink.NewWebhookOutput(webhook.Config{
			URL:            cfg.Sinks.Webhook.URL,
			Secret:         cfg.Sinks.Webhook.Secret,
			MaxAttempts:    cfg.Sinks.Webhook.MaxAttempts,
			InitialBackoff: cfg.Sinks.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Sinks.Webhook.MaxBackoff,
		}))
	}

	// Redis
	if cfg.Sinks.Redis.Enabled {
		if ro, err := sink.NewRedisOutput(cfg.Sinks.Redis.Addr, cfg.Sinks.Redis.Password, cfg.Sinks.Redis.DB, cfg.Sinks.Redis.Key, cfg.Sinks.Redis.Mode); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Warn("Redis sink disabled", "err", err)
		}
	}

	// Kafka
	if cfg.Sinks.Kafka.Enabled {
		if ko, err := sink.NewKafkaOutput(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic, cfg.Sinks.Kafka.User, cfg.Sinks.Kafka.Password); err == nil {
			outputs = append(outputs, ko)
		} else {
			log.Warn("Kafka sink disabled", "err", err)
		}
	}

	// RabbitMQ
	if cfg.Sinks.RabbitMQ.Enabled {
		if ro, err := sink.NewRabbitMQOutput(cfg.Sinks.RabbitMQ.URL, cfg.Sinks.RabbitMQ.Exchange, cfg.Sinks.RabbitMQ.RoutingKey, cfg.Sinks.RabbitMQ.QueueName, cfg.Sinks.RabbitMQ.Durable); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Warn("RabbitMQ sink disabled", "err", err)
		}
	}

	return outputs
}
