// Command relayd is a minimal demonstration binary for the relay
// module: it wires BootConfig → Server → one plaintext HTTP Connector →
// the shutdown control channel, following the gateway's own main.go
// config→logger→server→signal-handling order.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/relayhttp/relay"
	"github.com/relayhttp/relay/pkg/relay/connector"
	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/httpchannel"
	"github.com/relayhttp/relay/pkg/relay/httpconfig"
	"github.com/relayhttp/relay/pkg/relay/relaylog"
	"github.com/relayhttp/relay/pkg/relay/shutdownmon"
	"github.com/relayhttp/relay/pkg/relay/wire"
)

func loadBootConfig() relay.BootConfig {
	_ = godotenv.Load()

	return relay.BootConfig{
		Env:             getEnv("RELAY_ENV", "development"),
		Addr:            getEnv("RELAY_ADDR", ""),
		Port:            getEnvInt("RELAY_PORT", 8080),
		MaxInFlight:     getEnvInt("RELAY_MAX_IN_FLIGHT", 0),
		GracefulTimeout: time.Duration(getEnvInt("RELAY_GRACEFUL_TIMEOUT_SEC", 15)) * time.Second,
		ShutdownKey:     getEnv("RELAY_SHUTDOWN_KEY", ""),
		ShutdownPort:    getEnvInt("RELAY_SHUTDOWN_PORT", 0),
		HTTPConfig:      httpconfig.DefaultConfig(),
	}
}

func rootHandler() handler.Handler {
	return handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		r := req.(*httpchannel.Request)
		w := resp.(*httpchannel.Response)
		w.SetHeader("Content-Type", []byte("text/plain; charset=utf-8"))
		w.WriteHeader(200)
		fmt.Fprintf(w, "relay: %s %s\n", wire.MethodString(r.Method), r.Path)
		return true, nil
	})
}

func main() {
	cfg := loadBootConfig()
	log := relaylog.New(relaylog.Options{Env: cfg.Env})
	log.Info().Str("env", cfg.Env).Msg("relay starting")

	srv := relay.New(rootHandler(), cfg.MaxInFlight, log)

	srv.AddConnector(connector.Config{
		Name:          "http",
		Port:          cfg.Port,
		Factories:     []connector.Factory{&connector.HTTPFactory{HTTPConfig: cfg.HTTPConfig}},
		HTTPConfig:    cfg.HTTPConfig,
		ShutdownGrace: cfg.GracefulTimeout,
	})

	mon := shutdownmon.New(cfg.ShutdownKey, cfg.GracefulTimeout)
	mon.Register(srv)
	if err := mon.Listen("127.0.0.1", cfg.ShutdownPort); err != nil {
		log.Fatal().Err(err).Msg("shutdown monitor listen failed")
	}
	mon.WatchSignals()
	go func() {
		if err := mon.Serve(); err != nil {
			log.Warn().Err(err).Msg("shutdown monitor stopped")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error().Err(err).Msg("relay stopped with error")
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
