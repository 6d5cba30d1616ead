package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go-blogjobs/api"
	"go-blogjobs/jobs"
	"go-blogjobs/mail"
	"go-blogjobs/model"
	"go-blogjobs/search"
	"go-blogjobs/tasks"
	"go-blogjobs/worker"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "blogjobs",
	Short:        "Background jobs, notifications and search for the blog",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorker(cmd.Context())
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [index...]",
	Short: "Rebuild search indexes from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{model.PostsIndex}
		}
		return runReindex(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, reindexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func shutdownSignals() <-chan os.Signal {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	return sig
}

func runServe(ctx context.Context) error {
	c, err := newComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	server := api.NewServer(c.cfg.ServerAddr, api.Options{
		Store:        c.store,
		Jobs:         jobs.NewService(c.store, c.queue, c.logger, c.metrics),
		Search:       search.NewPosts(c.backend, c.store, c.store.DB()),
		Metrics:      c.metrics,
		Logger:       c.logger,
		PostsPerPage: c.cfg.PostsPerPage,
	})

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("starting server", "addr", c.cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case s := <-shutdownSignals():
		c.logger.Info("shutdown signal received", "signal", s.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		c.logger.Error("http server shutdown", "error", err)
	}
	return nil
}

func runWorker(ctx context.Context) error {
	c, err := newComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	mailer := mail.New(mail.SMTPConfig{
		Host:     c.cfg.MailServer,
		Port:     c.cfg.MailPort,
		UseTLS:   c.cfg.MailUseTLS,
		Username: c.cfg.MailUsername,
		Password: c.cfg.MailPassword,
	}, c.logger)

	registry := worker.Registry{}
	tasks.NewExporter(c.store, c.store.DB(), mailer, c.cfg.AdminEmail, c.cfg.ExportPostDelay).Register(registry)

	bridge := jobs.NewBridge(c.store, c.queue, c.logger, c.metrics)
	pool := worker.NewPool(c.queue, registry, bridge, c.logger, c.metrics)

	var metricsServer *http.Server
	if c.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", c.metrics.Handler())
		metricsServer = &http.Server{Addr: c.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("metrics server", "error", err)
			}
		}()
	}

	workCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	pool.Start(workCtx, c.cfg.WorkerCount, &wg)
	c.logger.Info("worker started", "workers", c.cfg.WorkerCount, "queue", c.cfg.QueueName)

	s := <-shutdownSignals()
	c.logger.Info("shutdown signal received", "signal", s.String())
	cancel()

	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	wg.Wait()
	c.logger.Info("all workers stopped")
	return nil
}

func runReindex(ctx context.Context, indexes []string) error {
	c, err := newComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if !c.mirror.Enabled() {
		return errors.New("search is disabled: set ELASTICSEARCH_URL")
	}
	for _, index := range indexes {
		n, err := c.mirror.Reindex(ctx, index)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d documents indexed\n", index, n)
	}
	return nil
}
