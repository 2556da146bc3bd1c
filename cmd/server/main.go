package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/calyptra/etlvault/internal/cipher"
	"github.com/calyptra/etlvault/internal/config"
	"github.com/calyptra/etlvault/internal/logging"
	"github.com/calyptra/etlvault/internal/pipeline"
	"github.com/calyptra/etlvault/internal/store"
	"github.com/calyptra/etlvault/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"database", cfg.Database.Name,
		"db_max_conns", cfg.Database.MaxConns,
		"strict_ip", cfg.Validation.StrictIP,
	)

	key, err := loadKey(cfg)
	if err != nil {
		slog.Error("failed to load encryption key", "error", err)
		os.Exit(1)
	}

	fieldCipher, err := cipher.New(key)
	if err != nil {
		slog.Error("failed to initialize field cipher", "error", err)
		os.Exit(1)
	}

	gateway := store.NewGateway(store.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
		Credentials: map[store.Role]store.Credentials{
			store.RoleAnalyst: {User: cfg.Roles.AnalystUser, Password: cfg.Roles.AnalystPassword},
			store.RoleManager: {User: cfg.Roles.ManagerUser, Password: cfg.Roles.ManagerPassword},
			store.RoleAdmin:   {User: cfg.Roles.AdminUser, Password: cfg.Roles.AdminPassword},
		},
	}, fieldCipher)
	defer gateway.Close()

	service := pipeline.New(gateway, fieldCipher, cfg.Validation.StrictIP)

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// loadKey resolves the cipher key from whichever source the configuration
// carries: a raw base64 key, or a passphrase plus salt.
func loadKey(cfg *config.Config) ([]byte, error) {
	if cfg.Crypto.Key != "" {
		return cipher.KeyFromBase64(cfg.Crypto.Key)
	}
	return cipher.KeyFromPassphrase(cfg.Crypto.Passphrase, cfg.Crypto.Salt), nil
}
