package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/ledger-intake/internal/api"
	"github.com/Veraticus/ledger-intake/internal/certs"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and queue workers",
		Long: `Serve the document ingestion API and consume pipeline tasks in the same
process. Stop with Ctrl+C; in-flight requests are given the configured
shutdown timeout to finish.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	cmd.Flags().Bool("no-workers", false, "serve the API without consuming tasks")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate (overrides http.tls)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	noWorkers, _ := cmd.Flags().GetBool("no-workers")
	if useTLS, _ := cmd.Flags().GetBool("tls"); useTLS {
		cfg.HTTP.TLS = true
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	var tlsConfig *tls.Config
	if cfg.HTTP.TLS {
		mgr := certs.NewFileManager(cfg.HTTP.CertDir, cfg.HTTP.TLSHosts...)
		tlsConfig, err = mgr.TLSConfig()
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		slog.Info("Serving HTTPS with self-signed certificate", "cert", mgr.CertFile())
	}

	server := api.New(api.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		MaxUploadBytes:  cfg.HTTP.MaxUploadBytes,
		RateLimit:       cfg.RateLimit.Requests,
		RateWindow:      cfg.RateLimit.Window,
		TLS:             tlsConfig,
	}, api.Deps{
		Documents:  a.gateway,
		Processor:  a.pipeline,
		Content:    a.files,
		Signer:     a.signer,
		Dispatcher: a.queue,
		Limiter:    a.limiter,
	}, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if !noWorkers {
		g.Go(func() error {
			return runWorkers(gctx, a)
		})
	}
	return g.Wait()
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume pipeline tasks",
		Long:  `Run the normalize and run-completion consumers without the HTTP API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWorkers(cmd.Context(), a)
		},
	}
}

// runWorkers treats cancellation as a clean stop.
func runWorkers(ctx context.Context, a *app) error {
	err := a.worker.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
