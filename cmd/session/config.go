package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/balancesync/internal/config"
	"github.com/fastprodman/balancesync/internal/services/session"
)

type sessionConfig struct {
	SessionID       string        `env:"SESSION_ID" default:"default"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
	ResolveTimeout  time.Duration `env:"RESOLVE_TIMEOUT" default:"30s"`
	Store           config.StoreConfig
	Bank            config.BankClientConfig
	Session         session.Config
}
