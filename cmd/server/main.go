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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gdb-bridge/internal/config"
	"gdb-bridge/internal/files"
	"gdb-bridge/internal/logger"
	"gdb-bridge/internal/realtime"
	"gdb-bridge/internal/session"
)

// shutdownTimeout bounds HTTP shutdown; debuggers additionally get KillGrace.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the gdb-bridge command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gdb-bridge",
		Short: "Expose a gdb session over a WebSocket",
		Long: `gdb-bridge serves a WebSocket endpoint. Each new connection starts a
gdb process in machine interface mode, relays its output to the client and
forwards the client's commands to it. Clients may also list directories on
the host.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := session.NewManager(
		session.ExecStarter(cfg.Debugger.Path, cfg.Debugger.Args, cfg.Debugger.WorkDir),
		session.Options{
			QuitCommand:      cfg.Debugger.QuitCommand,
			KillGrace:        cfg.Debugger.KillGrace,
			KillOnDisconnect: cfg.Debugger.KillOnDisconnect,
		},
		log,
	)
	watcher := files.NewWatcher(cfg.Files.WatchDebounce, log)
	router := realtime.NewRouter(sessions, files.NewLister(log), watcher, cfg.Files.ReportErrors, log)
	rtServer := realtime.New(sessions, router, cfg.Server.StaticDir, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           rtServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("gdb bridge listening",
			zap.String("addr", httpServer.Addr),
			zap.String("gdb", cfg.Debugger.Path),
			zap.Strings("args", cfg.Debugger.Args))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown error", zap.Error(err))
		}
		rtServer.CloseClients()
		watcher.Shutdown()

		grace := cfg.Debugger.KillGrace
		if grace <= 0 {
			grace = shutdownTimeout
		}
		debuggerCtx, cancelDebugger := context.WithTimeout(context.Background(), grace)
		defer cancelDebugger()
		sessions.Shutdown(debuggerCtx)
		return nil
	})

	return g.Wait()
}
