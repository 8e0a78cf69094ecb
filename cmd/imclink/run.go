package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/config"
	"github.com/omochice/imclink/internal/session"
	"github.com/omochice/imclink/internal/transport"
	"github.com/omochice/imclink/internal/transport/tcp"
	"github.com/omochice/imclink/internal/transport/ws"
	"github.com/omochice/imclink/pkg/protocol"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		tick    time.Duration
		enabled bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the router and pump the session until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger(opts.debug)
			defer logger.Sync()

			svc := &session.Service{
				Enabled: func() bool { return enabled },
				Build: func() (*session.Session, error) {
					loader, cfg, err := opts.loadConfig()
					if err != nil {
						return nil, err
					}
					logger.Info("starting session",
						zap.String("router", cfg.ServerAddr),
						zap.Int("port", cfg.ServerPort),
						zap.String("transport", cfg.Transport))
					return session.New(cfg, session.Options{
						Transport: transportFor(cfg, logger),
						Writer:    loader,
						Logger:    logger,
						Version:   "imclink-" + version,
						OnMessage: printMessage(cmd.OutOrStdout()),
					})
				},
			}

			ticker := time.NewTicker(tick)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					logger.Info("shutting down")
					return svc.Close()
				case <-ticker.C:
					if err := svc.Pump(ctx); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&tick, "tick", 250*time.Millisecond, "interval between session pumps")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable the router link")
	return cmd
}

func transportFor(cfg *config.Config, logger *zap.Logger) transport.Transport {
	if cfg.Transport == config.TransportWebSocket {
		return ws.New(logger)
	}
	return tcp.New(logger)
}

func printMessage(w io.Writer) func(protocol.Frame) {
	return func(f protocol.Frame) {
		switch f.Type {
		case protocol.TypeChannelMessage:
			fmt.Fprintf(w, "[%s] %s: %s\n", f.Target, f.Source, f.Message)
		case protocol.TypeTell:
			fmt.Fprintf(w, "%s tells %s: %s\n", f.Source, f.Target, f.Message)
		}
	}
}
