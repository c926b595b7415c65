package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/polyresolver/polyresolver/internal/adminhttp"
	"github.com/polyresolver/polyresolver/internal/auth"
	"github.com/polyresolver/polyresolver/internal/catalog"
	"github.com/polyresolver/polyresolver/internal/dnsproxy"
	"github.com/polyresolver/polyresolver/internal/metrics"
	"github.com/polyresolver/polyresolver/internal/reconciler"
	"github.com/polyresolver/polyresolver/internal/version"
	"github.com/polyresolver/polyresolver/internal/zoneconfig"
	"github.com/polyresolver/polyresolver/internal/zonewatcher"
)

// updatesBuffer sizes the Watcher -> Reconciler channel. Config churn is
// low-frequency, so a small buffer absorbs the initial directory scan
// without the watcher blocking on the reconciler.
const updatesBuffer = 32

// watcherStartupGrace bounds how long run() waits for the watcher's
// synchronous scan-and-subscribe phase to fail before assuming it
// succeeded and proceeding to bind the DNS listeners. The watcher only
// ever returns a non-nil error from that initial phase; once past it, it
// blocks serving events until shutdown.
const watcherStartupGrace = 250 * time.Millisecond

const defaultListenIP = "127.0.0.1"

var errConfigDirRequired = errors.New("config directory argument is required and must exist")

func newRunCmd() *cobra.Command { //nolint:funlen
	var (
		listenIPFlag  string
		adminAddr     string
		adminPassword string
		tlsCertFile   string
		tlsKeyFile    string
	)

	cmd := &cobra.Command{
		Use:   "run <config-dir> [<listen-ip>]",
		Short: "Watch a zone-config directory and serve DNS queries routed by longest-suffix match",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := zerolog.Ctx(ctx)

			configDir := args[0]

			if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
				return fmt.Errorf("%w: %q", errConfigDirRequired, configDir)
			}

			listenIP := defaultListenIP
			if listenIPFlag != "" {
				listenIP = listenIPFlag
			}

			if len(args) == 2 {
				listenIP = args[1]
			}

			log.Info().
				Str("version", version.GetVersion()).
				Str("build_time", version.GetBuildTime()).
				Str("config_dir", configDir).
				Str("listen_ip", listenIP).
				Msg("polyresolver starting")

			metrics.RegisterCollectors()
			metrics.SetService("polyresolver")
			metrics.BindService()

			cat := catalog.New()
			rec := reconciler.New(cat, nil, *log)

			updates := make(chan zoneconfig.ConfigUpdate, updatesBuffer)
			go rec.Run(ctx, updates)

			watcher := zonewatcher.New(configDir, zonewatcher.DefaultDebounce, *log)

			watchErr := make(chan error, 1)
			go func() { watchErr <- watcher.Run(ctx, updates) }()

			select {
			case err := <-watchErr:
				if err != nil {
					return err
				}
			case <-time.After(watcherStartupGrace):
			}

			dnsSrv := dnsproxy.NewServer(cat, dnsproxy.Options{
				ListenIP:    listenIP,
				TLSCertFile: tlsCertFile,
				TLSKeyFile:  tlsKeyFile,
			}, *log)
			if err := dnsSrv.Start(ctx); err != nil {
				return err
			}

			if adminAddr != "" {
				if err := startAdmin(ctx, adminAddr, adminPassword, cat, rec, watcher, updates, *log); err != nil {
					return err
				}
			}

			<-ctx.Done()
			log.Info().Msg("shutting down")

			return nil
		},
	}

	cmd.Flags().StringVar(&listenIPFlag, "listen-ip", "", "Client-facing listen address (default 127.0.0.1; overridden by the positional arg)")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", ":8080", "Admin HTTP listen address; empty disables the admin surface")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "",
		"Admin password guarding POST /api/v1/reload (generated and logged once at startup if empty)")
	cmd.Flags().StringVar(&tlsCertFile, "tls-cert", "", "TLS certificate enabling a DoT listener on TCP/853 (programmatic in the original interface; exposed here for operability)")
	cmd.Flags().StringVar(&tlsKeyFile, "tls-key", "", "TLS private key paired with --tls-cert")

	return cmd
}

func startAdmin(
	ctx context.Context,
	addr, password string,
	cat *catalog.Catalog,
	rec *reconciler.Reconciler,
	watcher *zonewatcher.Watcher,
	updates chan zoneconfig.ConfigUpdate,
	log zerolog.Logger,
) error {
	authSvc, generated, err := auth.NewService(password)
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}

	if generated != "" {
		log.Info().Str("admin_password", generated).
			Msg("generated admin password for POST /api/v1/reload (not persisted anywhere — record it now)")
	}

	admin := adminhttp.NewServer(addr, cat, rec, watcher, updates, authSvc, log)

	return admin.Start(ctx)
}
