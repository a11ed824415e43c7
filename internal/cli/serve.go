package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/censo/censo/backend/go-services/internal/app"
	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the record HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default SERVER_HOST:SERVER_PORT)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, addr string) error {
	cfg := opts.cfg
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if addr == "" {
		addr = fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router(nil),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // watch streams are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("censo API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
