// rinkchatd runs the chat engine and serves the local HTTP API plus
// the static web client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sunmoonron/rinkchat/internal/chat"
	"github.com/sunmoonron/rinkchat/internal/chatapi"
	"github.com/sunmoonron/rinkchat/internal/identity"
)

type config struct {
	Addr       string   `mapstructure:"addr"`
	DataDir    string   `mapstructure:"data_dir"`
	WebDir     string   `mapstructure:"web_dir"`
	BaseURL    string   `mapstructure:"base_url"`
	Relays     []string `mapstructure:"relays"`
	Passphrase string   `mapstructure:"passphrase"`
	Verbose    bool     `mapstructure:"verbose"`
}

func loadConfig() (*config, error) {
	v := viper.New()
	v.SetConfigName("rinkchat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.rinkchat")

	v.AutomaticEnv()
	v.SetEnvPrefix("RINKCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("addr", ":8090")
	v.SetDefault("data_dir", filepath.Join("data", "chat"))
	v.SetDefault("web_dir", ".")
	v.SetDefault("base_url", "https://sunmoonron.github.io")
	v.SetDefault("relays", []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.nostr.band",
	})
	v.SetDefault("verbose", false)

	pflag.String("addr", ":8090", "http listen address")
	pflag.String("data-dir", "", "state directory")
	pflag.StringSlice("relays", nil, "relay websocket urls")
	pflag.String("base-url", "", "base url for share links")
	pflag.String("passphrase", os.Getenv("RINKCHAT_PASSPHRASE"), "identity key passphrase")
	pflag.Bool("verbose", false, "debug logging")
	pflag.String("config", "", "path to config file")
	pflag.Parse()

	_ = v.BindPFlag("addr", pflag.Lookup("addr"))
	_ = v.BindPFlag("data_dir", pflag.Lookup("data-dir"))
	_ = v.BindPFlag("relays", pflag.Lookup("relays"))
	_ = v.BindPFlag("base_url", pflag.Lookup("base-url"))
	_ = v.BindPFlag("passphrase", pflag.Lookup("passphrase"))
	_ = v.BindPFlag("verbose", pflag.Lookup("verbose"))

	if path := pflag.Lookup("config"); path != nil && path.Value.String() != "" {
		v.SetConfigFile(path.Value.String())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logCfg := zap.NewProductionConfig()
	if cfg.Verbose {
		logCfg = zap.NewDevelopmentConfig()
	}
	log, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	store := identity.NewStore(cfg.DataDir, cfg.Passphrase, log.Named("identity"))
	id, err := store.Ensure()
	if err != nil {
		log.Fatal("identity unavailable", zap.Error(err))
	}
	log.Info("identity ready",
		zap.String("name", id.DisplayName),
		zap.String("pubkey", id.PublicKey))

	manager, err := chat.NewManager(chat.Config{
		DataDir: cfg.DataDir,
		BaseURL: cfg.BaseURL,
		Relays:  cfg.Relays,
	}, id, log.Named("chat"))
	if err != nil {
		log.Fatal("chat manager init failed", zap.Error(err))
	}
	defer manager.Close()

	mux := http.NewServeMux()
	chatapi.NewServer(manager, log.Named("api")).Register(mux)
	mux.Handle("/", http.FileServer(http.Dir(cfg.WebDir)))

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.Strings("relays", cfg.Relays))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
