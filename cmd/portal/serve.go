package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/quota-bridge/portal/internal/config"
	"github.com/quota-bridge/portal/internal/errors"
	"github.com/quota-bridge/portal/internal/logging"
	"github.com/quota-bridge/portal/pkg/backend"
	"github.com/quota-bridge/portal/pkg/kv"
	"github.com/quota-bridge/portal/pkg/portal"
	"github.com/quota-bridge/portal/pkg/telemetry"
)

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal server",
		Long: `Start the portal HTTP server.

Settings come from portal.json (--config), then PORTAL_* environment
variables, then the flags below.

Examples:
  portal serve
  portal serve --port=8081
  portal serve -c /etc/portal/portal.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from portal.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from portal.json)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return errors.New("P104").Wrap(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(telemetry.WithRegistry(reg))

	store, err := kv.Open(ctx, cfg.KV())
	if err != nil {
		return errors.New("P121").Wrap(err)
	}
	defer store.Close()

	client, err := backend.New(cfg.Backend.URL, logger,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeout()}),
		backend.WithMetrics(metrics),
	)
	if err != nil {
		return errors.New("P140").Wrap(err)
	}

	resolver, err := cfg.Resolver()
	if err != nil {
		return err
	}

	p, err := portal.New(portal.Config{
		TabCookie:           cfg.Tabs.Cookie,
		MaxTabs:             cfg.Tabs.Max,
		SecureCookies:       cfg.Server.SecureCookies,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		ValidateTimeout:     cfg.ValidateTimeout(),
		AdminLoginPerMinute: cfg.Tabs.AdminLoginRate,
		AdminLoginBurst:     cfg.Tabs.AdminLoginBurst,
		DisableMetrics:      cfg.Server.DisableMetrics,
	}, store, client, resolver, logger, portal.WithMetrics(metrics, reg))
	if err != nil {
		return errors.New("P180").Wrap(err)
	}
	defer p.Close()

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           p,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout(),
	}

	printBanner(cmd)
	success(cmd, "Listening on http://%s", cfg.Address())
	info(cmd, "Backend  %s", cfg.Backend.URL)
	info(cmd, "Storage  %s", cfg.Storage.Driver)
	fmt.Fprintln(cmd.OutOrStdout())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New("P180").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New("P180").Wrap(err)
	}
	return nil
}
