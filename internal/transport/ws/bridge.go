// Package ws bridges remote client processes to the in-process mailbox
// broker over WebSocket, framing envelopes in their binary wire layout.
package ws

import (
	"context"
	"errors"
	stdhttp "net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mailroom/internal/mailbox"
	"github.com/vovakirdan/mailroom/internal/proto"
)

// Bridge owns one mailbox per WebSocket connection and pumps envelopes
// in both directions.
type Bridge struct {
	broker *mailbox.Broker
	inbox  mailbox.Handle
	log    *zerolog.Logger
}

// NewBridge builds a bridge in front of the server mailbox.
func NewBridge(broker *mailbox.Broker, inbox mailbox.Handle, logger *zerolog.Logger) *Bridge {
	return &Bridge{broker: broker, inbox: inbox, log: logger}
}

func (b *Bridge) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		b.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	handle := b.broker.Create()
	logger := b.log.With().
		Str("session_id", uuid.NewString()).
		Uint32("mailbox", uint32(handle)).
		Logger()
	logger.Info().Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var sawClosing atomic.Bool
	errCh := make(chan error, 2)
	go func() {
		errCh <- b.readLoop(ctx, conn, handle, &sawClosing, &logger)
	}()
	go func() {
		errCh <- b.writeLoop(ctx, conn, handle)
	}()

	err = <-errCh
	cancel()

	// A client that vanished without announcing itself still has to be
	// taken out of its room.
	if !sawClosing.Load() {
		b.synthesizeClosing(handle, &logger)
	}
	// Destroying the mailbox unblocks the write loop's pending receive.
	b.broker.Destroy(handle)
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		switch status {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		default:
			logger.Warn().Err(err).Msg("ws connection closed with error")
			status = websocket.StatusInternalError
			reason = "internal error"
		}
	}
	conn.Close(status, reason)
	logger.Info().Msg("client disconnected")
}

// readLoop forwards inbound envelopes to the server mailbox. The reply
// mailbox field is always overwritten with the handle owned by this
// connection; a remote peer cannot speak for another mailbox.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, handle mailbox.Handle, sawClosing *atomic.Bool, logger *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			logger.Warn().Msg("dropping non-binary frame")
			continue
		}

		var env proto.Envelope
		if err := env.UnmarshalBinary(data); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		env.ReplyMailbox = uint32(handle)
		if env.Kind == proto.KindClientClosing {
			sawClosing.Store(true)
		}

		payload, err := env.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.broker.Send(b.inbox, payload); err != nil {
			return err
		}
	}
}

// writeLoop delivers envelopes from the connection's mailbox to the peer.
func (b *Bridge) writeLoop(ctx context.Context, conn *websocket.Conn, handle mailbox.Handle) error {
	for {
		payload, err := b.broker.Receive(handle)
		if err != nil {
			if errors.Is(err, mailbox.ErrMailboxDestroyed) {
				return nil
			}
			return err
		}
		if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
			return err
		}
	}
}

func (b *Bridge) synthesizeClosing(handle mailbox.Handle, logger *zerolog.Logger) {
	env := proto.Envelope{Kind: proto.KindClientClosing, ReplyMailbox: uint32(handle)}
	payload, err := env.MarshalBinary()
	if err != nil {
		return
	}
	if err := b.broker.Send(b.inbox, payload); err != nil {
		logger.Debug().Err(err).Msg("synthesized closing not delivered")
		return
	}
	logger.Info().Msg("synthesized client closing")
}
