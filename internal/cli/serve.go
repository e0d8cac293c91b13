package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"storywalk/internal/metrics"
	"storywalk/internal/runlog"
	"storywalk/internal/server"
)

// ServeCmd returns the serve command
func ServeCmd(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Explore uploaded stories over HTTP",
		Long: `Start an HTTP server. POST a story as the multipart field "file" to
/upload and the response is the run report. GET /metrics exposes Prometheus
metrics and GET /healthz answers liveness checks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := g.settings()
			if err != nil {
				return err
			}
			if addr != "" {
				settings.Server.Addr = addr
			}
			logger, err := runlog.New(runlog.Options{
				Level:  settings.Log.Level,
				Format: settings.Log.Format,
				Stream: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer logger.Close()

			gin.SetMode(gin.ReleaseMode)
			srv := server.New(server.Options{
				Settings: settings,
				Metrics:  metrics.New(),
				Logger:   logger.Logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", settings.Server.Addr)
			if err != nil {
				return err
			}
			return serve(ctx, srv.HTTPServer(settings.Server.Addr), ln, logger.Logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

type infoLogger interface {
	Info(msg string, args ...any)
}

// serve runs hs on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, hs *http.Server, ln net.Listener, log infoLogger) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("listening", "addr", ln.Addr().String())
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
