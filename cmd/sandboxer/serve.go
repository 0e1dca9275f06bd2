package main

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/config"
	"github.com/michaelbrown/sandboxer/internal/logger"
	"github.com/michaelbrown/sandboxer/internal/server"
	"github.com/michaelbrown/sandboxer/internal/storage"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandboxer web server",
	Long: `Start the sandboxer HTTP server with the REST API, WebSocket run streaming and
the web UI.

POST /api/sandbox runs the pipeline and answers when the sandbox is stopped.
POST /api/runs starts a run in the background.

Examples:
  sandboxer serve
  sandboxer serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			logger.NewFromConfig,
			newStore,
			newProvider,
			loadProfile,
			newPipeline,
			newTitler,
			newService,
			server.New,
		),
		fx.Invoke(registerServer),
		fx.StopTimeout(cfg.Server.ShutdownTimeout),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	<-app.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}

func registerServer(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, srv *server.Server, store storage.Store, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("listening on port %d: %w", cfg.Server.Port, err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil {
					log.Error("http server failed", zap.Error(err))
					sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			if cerr := store.Close(); cerr != nil {
				log.Warn("closing storage", zap.Error(cerr))
			}
			log.Sync()
			return err
		},
	})
}
