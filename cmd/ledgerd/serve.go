package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/client-ledger/api"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled audit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			return a.serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: HTTP_ADDR)")
	return cmd
}

// serve blocks until ctx is cancelled, then drains in-flight requests for
// up to 30s before the scheduler and database are closed.
func (a *app) serve(ctx context.Context, addr string) error {
	svc, backend, err := a.openService(ctx, true)
	if err != nil {
		return err
	}
	defer backend.Close()

	scheduler := api.NewAuditScheduler(svc, a.cfg.AuditSchedule, a.log)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(api.NewHandler(svc), a.log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info().
			Str("addr", addr).
			Str("backend", backend.Capabilities().Dialect).
			Stringer("strategy", svc.Strategy()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info().Msg("server stopped")
	return nil
}
