package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bark-labs/bark-push-sdk/internal/config"
	"github.com/bark-labs/bark-push-sdk/internal/crypto"
	"github.com/bark-labs/bark-push-sdk/internal/logging"
	"github.com/bark-labs/bark-push-sdk/internal/server"
	"github.com/bark-labs/bark-push-sdk/internal/service"
	"github.com/bark-labs/bark-push-sdk/internal/storage/bolt"
)

const usage = `usage: bark-push [-config config.yaml] <command> [flags]

commands:
  serve        run the sandbox registration server
  activate     register this device for push notifications
  deactivate   deregister this device
  status       print the persisted activation state
  token        request a client token from the server
  keygen       print a random storage encryption key
`

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "activate", "deactivate":
		err = runActivation(ctx, cfg, logger, cmd, args)
	case "status":
		err = status(ctx, cfg, os.Stdout)
	case "token":
		err = token(ctx, cfg, logger, args)
	case "keygen":
		err = keygen(cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := bolt.New(cfg.Server.StoragePath)
	if err != nil {
		return fmt.Errorf("open registration store: %w", err)
	}
	defer store.Close()

	authSvc := service.NewAuthService(cfg)
	regSvc := service.NewRegistrationService(store, authSvc)
	srv := server.New(cfg, regSvc, authSvc, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func keygen(cfg *config.Config) error {
	key, err := crypto.GenerateRandomKey(cfg.Crypto.KeyBits)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(key))
	return nil
}

// waitTimeout bounds how long a one-shot command waits for the delegate.
func waitTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Registration.RetryMax+2)*cfg.Registration.RequestTimeout + cfg.Registration.RetryWaitMax
}
