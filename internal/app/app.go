// Package app wires the broker, router, history sink, and transport
// into one runnable relay.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mailroom/internal/config"
	"github.com/vovakirdan/mailroom/internal/core"
	"github.com/vovakirdan/mailroom/internal/history"
	"github.com/vovakirdan/mailroom/internal/mailbox"
	"github.com/vovakirdan/mailroom/internal/transport/ws"
)

// ServerMailboxName is the well-known name the server mailbox is bound
// under on the broker.
const ServerMailboxName = "server"

// App holds the assembled relay.
type App struct {
	server          *stdhttp.Server
	router          *core.Router
	broker          *mailbox.Broker
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	broker := mailbox.NewBroker()
	inbox := broker.Create()
	if err := broker.Bind(ServerMailboxName, inbox); err != nil {
		return nil, fmt.Errorf("bind server mailbox: %w", err)
	}

	hist, err := history.New(cfg.HistoryDir)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}
	logger.Info().Str("history_dir", cfg.HistoryDir).Msg("history sink ready")

	reg := core.NewRegistry(core.Limits{
		MaxClients:     cfg.MaxClients,
		MaxRooms:       cfg.MaxRooms,
		MaxRoomMembers: cfg.MaxRoomMembers,
	})
	router := core.NewRouter(broker, inbox, reg, hist, logger)
	bridge := ws.NewBridge(broker, inbox, logger)

	return &App{
		server:          ws.NewServer(cfg, reg, bridge, logger),
		router:          router,
		broker:          broker,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Broker exposes the transport for same-process clients and tests.
func (a *App) Broker() *mailbox.Broker {
	return a.broker
}

// Run starts the router and the HTTP server and blocks until context
// cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	routerDone := make(chan error, 1)
	serverErr := make(chan error, 1)

	go func() {
		routerDone <- a.router.Run(ctx)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case err := <-routerDone:
		if err == nil {
			err = errors.New("router stopped unexpectedly")
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-routerDone; err != nil {
			return err
		}
		return <-serverErr
	}
}
