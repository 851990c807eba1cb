package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/formtree"
	httpAdapter "github.com/aretw0/formtree/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP editing server",
	Long: `Serves the form editor as a JSON API over HTTP, with a Server-Sent Events
stream per form and Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.cfg.HTTP.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		var editorOpts []formtree.Option
		handlerOpts := []httpAdapter.Option{httpAdapter.WithLogger(a.logger)}
		if a.cfg.HTTP.Metrics {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			editorOpts = append(editorOpts, formtree.WithRegistry(reg))
			handlerOpts = append(handlerOpts, httpAdapter.WithMetrics(reg))
		}

		templates, err := a.templates()
		if err != nil {
			return err
		}
		if templates != nil {
			handlerOpts = append(handlerOpts, httpAdapter.WithTemplates(templates))
		}

		mgr := a.manager(editorOpts...)
		srv := &http.Server{
			Addr:              addr,
			Handler:           httpAdapter.NewHandler(mgr, handlerOpts...),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.logger.Info("formtree server listening", "address", addr, "store", a.cfg.Store.Driver)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			var errs []error
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("graceful shutdown did not complete in %v: %w", shutdownTimeout, err))
				errs = append(errs, srv.Close())
			}
			// Unsaved edits are flushed before the store closes.
			errs = append(errs, mgr.CloseAll(shutdownCtx))
			return errors.Join(errs...)
		})

		if err := g.Wait(); err != nil {
			return err
		}
		a.logger.Info("formtree server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on (defaults to http.addr from the config)")
}
