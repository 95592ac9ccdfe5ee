package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/remote"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the repository to remote clients over HTTP",
		Long: `Serve exposes the repository for push, fetch and clone over HTTP.
Users listed under [serve.users] in config.toml must authenticate with
HTTP basic auth; their values are bcrypt password hashes.`,
		Args: usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			cfg, err := r.ReadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Serve.Addr
			}
			if addr == "" {
				addr = repo.DefaultServeAddr
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return status.Errorf(status.ConnectionError, "listen on %s: %v", addr, err)
			}
			srv := &http.Server{
				Handler: remote.NewServer(r, remote.ServerOptions{
					Users:          cfg.Serve.Users,
					TransactionTTL: ttl,
					Logger:         a.logger,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			auth := "without authentication"
			if len(cfg.Serve.Users) > 0 {
				auth = fmt.Sprintf("for %d users", len(cfg.Serve.Users))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s on %s %s\n", r.Path(), ln.Addr(), auth)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from [serve] addr, then "+repo.DefaultServeAddr+")")
	cmd.Flags().DurationVar(&ttl, "transaction-ttl", time.Hour, "discard abandoned push transactions after this long")
	return cmd
}
