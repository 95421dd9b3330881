package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/northwind-digital/agency/internal/app"
	"github.com/northwind-digital/agency/internal/client"
	"github.com/northwind-digital/agency/internal/console"
)

func main() {
	if app.InTestMode() {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := console.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLoggerTo(os.Stderr, cfg.LogFormat)

	// No client timeout: the session event stream is long-lived.
	hc := &http.Client{}
	identity := client.NewIdentityClient(cfg.APIURL, &client.FileTokenStore{Path: cfg.TokenFile},
		client.WithHTTPClient(hc), client.WithLogger(logger))
	defer identity.Close()

	a := console.NewApp(console.Deps{
		Provider:    identity,
		Store:       client.NewStoreClient(cfg.APIURL, identity, hc),
		Jobs:        func() (console.JobsOps, error) { return console.NewAsynqOps(cfg.RedisAddr), nil },
		In:          os.Stdin,
		Out:         os.Stdout,
		RoleTimeout: cfg.RoleTimeout,
		WaitTimeout: cfg.WaitTimeout,
		Logger:      logger,
	})
	code := console.Execute(ctx, a, os.Args[1:], os.Stderr)
	identity.Close()
	stop()
	os.Exit(code)
}
