package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"provisiond/internal/config"
	"provisiond/internal/importer"
	"provisiond/internal/logging"
	"provisiond/internal/mail"
	"provisiond/internal/store"
	"provisiond/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"max_batch_size", cfg.Import.MaxBatchSize,
		"inter_email_delay", cfg.Import.InterEmailDelay,
		"mail_configured", mailCredentials(cfg).Configured(),
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	accounts := store.New(pool)
	if err := accounts.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Without mail credentials the server still runs, but every import
	// job aborts at intake and the resend endpoint returns 503.
	var sender importer.MailSender
	if creds := mailCredentials(cfg); creds.Configured() {
		sender = mail.NewSMTPSender(creds)
	} else {
		slog.Warn("mail transport not configured; imports will abort at intake")
	}

	orch := importer.NewOrchestrator(accounts, sender, importer.SystemClock(), importer.Config{
		BaseURL:         cfg.Import.BaseURL,
		MaxBatchSize:    cfg.Import.MaxBatchSize,
		InterEmailDelay: cfg.Import.InterEmailDelay,
		TokenTTL:        cfg.Import.TokenTTL,
	}, slog.Default())

	server := web.NewServer(cfg, orch, accounts, sender)

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
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

func mailCredentials(cfg *config.Config) mail.Credentials {
	return mail.Credentials{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	}
}
