package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bark-labs/bark-push-sdk/internal/auth"
	"github.com/bark-labs/bark-push-sdk/internal/config"
	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/push"
	"github.com/bark-labs/bark-push-sdk/internal/registrar"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
	"github.com/bark-labs/bark-push-sdk/internal/storage/bolt"
	"github.com/bark-labs/bark-push-sdk/internal/storage/memory"
	"github.com/bark-labs/bark-push-sdk/internal/storage/sealed"
	"github.com/bark-labs/bark-push-sdk/internal/storage/sqlite"
)

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err = sqlite.New(ctx, cfg.Storage.Path)
	case "memory":
		store = memory.New()
	default:
		store, err = bolt.New(cfg.Storage.Path)
	}
	if err != nil {
		return nil, err
	}

	key, err := cfg.StorageKey()
	if err != nil {
		store.Close()
		return nil, err
	}
	if key == nil {
		return store, nil
	}
	wrapped, err := sealed.New(store, key)
	if err != nil {
		store.Close()
		return nil, err
	}
	return wrapped, nil
}

func newRegistrar(cfg *config.Config, logger *slog.Logger) (*registrar.Client, error) {
	return registrar.New(cfg.Registration.BaseURL, cfg.Registration.Token, cfg.Registration.RequestTimeout,
		registrar.WithRetry(cfg.Registration.RetryMax, cfg.Registration.RetryWaitMin, cfg.Registration.RetryWaitMax),
		registrar.WithLogger(logger))
}

type outcome struct {
	kind string
	err  error
}

func runActivation(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	pushToken := fs.String("push-token", cfg.Push.Token, "push token reported by the platform")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	client, err := newRegistrar(cfg, logger)
	if err != nil {
		return fmt.Errorf("init registrar: %w", err)
	}

	done := make(chan outcome, 4)
	report := func(kind string) func(error) {
		return func(err error) {
			select {
			case done <- outcome{kind: kind, err: err}:
			default:
			}
		}
	}
	m, err := push.New(ctx, store, client,
		push.WithLogger(logger),
		push.WithPlatform(push.StaticPlatform(*pushToken)),
		push.WithDeviceInfo(cfg.Push.Platform, cfg.Push.FormFactor),
		push.WithDelegate(push.DelegateFuncs{
			Activated:    report("activate"),
			Deactivated:  report("deactivate"),
			UpdateFailed: report("update"),
		}))
	if err != nil {
		return err
	}
	defer m.Close()

	authorizer := auth.NewAuthorizer(cfg.Auth.Secret, logger)
	authorizer.OnClientID(func(clientID string) {
		client.SetToken(authorizer.Token())
		m.AuthenticatedClientIDChanged(clientID)
	})
	if cfg.Auth.ClientToken != "" {
		if _, err := authorizer.Authorize(cfg.Auth.ClientToken); err != nil {
			return err
		}
	}

	if cmd == "activate" {
		m.Activate()
	} else {
		m.Deactivate()
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout(cfg))
	defer cancel()
	for {
		select {
		case res := <-done:
			if res.kind == "update" {
				logger.Warn("background registration update failed", "error", res.err)
				continue
			}
			if res.kind != cmd {
				continue
			}
			if res.err != nil {
				return res.err
			}
			return printStatus(os.Stdout, m.State(), m.Device())
		case <-waitCtx.Done():
			return fmt.Errorf("%s did not finish: %w", cmd, waitCtx.Err())
		}
	}
}

func status(ctx context.Context, cfg *config.Config, w io.Writer) error {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	state, dev, err := push.Inspect(ctx, store)
	if errors.Is(err, push.ErrNoDevice) {
		_, err = fmt.Fprintln(w, "no device")
		return err
	}
	if err != nil {
		return err
	}
	return printStatus(w, state, dev)
}

func printStatus(w io.Writer, state push.State, dev model.LocalDevice) error {
	out := map[string]any{
		"state":      state.String(),
		"deviceId":   dev.ID,
		"clientId":   dev.ClientID,
		"platform":   dev.Platform,
		"formFactor": dev.FormFactor,
		"pushToken":  mask(dev.PushToken),
		"registered": dev.Registered(),
	}
	if dev.IdentityToken != nil {
		out["identityExpires"] = dev.IdentityToken.Expires
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func token(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	clientID := fs.String("client-id", "", "clientId to bind the token to")
	username := fs.String("username", cfg.Server.Username, "admin username")
	password := fs.String("password", cfg.Server.Password, "admin password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := newRegistrar(cfg, logger)
	if err != nil {
		return err
	}
	tok, err := client.IssueClientToken(ctx, *username, *password, *clientID)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func mask(value string) string {
	if len(value) <= 4 {
		return value
	}
	return value[:4] + "****"
}
