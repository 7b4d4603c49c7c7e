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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tasktrack/internal/api"
	"tasktrack/internal/app"
	"tasktrack/internal/config"
	"tasktrack/internal/logging"
)

var (
	flagConfig string
	flagAddr   string
	flagStore  string
)

var rootCmd = &cobra.Command{
	Use:           "tasktrack-server",
	Short:         "Task tracker HTTP API with dependency enforcement",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to tasktrack.toml config file")
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config and PORT)")
	rootCmd.Flags().StringVar(&flagStore, "store", "", "Store backend: postgres or memory")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "tasktrack-server:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig, func(c *config.Config) {
		if flagAddr != "" {
			c.Server.Addr = flagAddr
		}
		if flagStore != "" {
			c.Database.Backend = flagStore
		}
	})
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := logging.New("server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer a.Close()
	if err := a.EnsureTables(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(a.Service, a.Tasks, a.Users, a.Events, api.Options{
			StreamInterval: cfg.Server.StreamInterval.Duration,
		}),
		// Streams end with the signal context so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Database.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.Duration)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
