package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/mailroom/internal/app"
	"github.com/vovakirdan/mailroom/internal/client"
	"github.com/vovakirdan/mailroom/internal/config"
	"github.com/vovakirdan/mailroom/internal/log"
	"github.com/vovakirdan/mailroom/internal/proto"
	"github.com/vovakirdan/mailroom/internal/transport/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mailroom",
		Short:        "Multi-room chat relay",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.New("info")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting mailroom relay")
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("relay stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	return cmd
}

func newChatCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "chat <user>",
		Short: "Connect to a relay as an interactive client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := proto.Truncate(args[0], proto.MaxNameLen)
			logger := log.New(logLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			conn, err := ws.Dial(dialCtx, addr)
			if err != nil {
				return fmt.Errorf("connect to relay at %s: %w", addr, err)
			}

			session := client.NewSession(conn, user, os.Stdin, os.Stdout, logger)

			// An interrupt has to cut the command loop's blocking stdin
			// read as well; shut the session down and leave.
			runDone := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					fmt.Println()
					session.Shutdown()
					os.Exit(0)
				case <-runDone:
				}
			}()

			err = session.Run()
			close(runDone)
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/ws", "relay WebSocket address")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}
