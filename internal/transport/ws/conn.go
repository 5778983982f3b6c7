package ws

import (
	"context"

	"github.com/coder/websocket"

	"github.com/vovakirdan/mailroom/internal/proto"
)

// Conn is the client side of the bridge: it satisfies the session's
// transport contract over a single WebSocket connection. The private
// mailbox lives server-side; the bridge stamps its handle, so outgoing
// envelopes leave the reply field untouched.
type Conn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to a relay's /ws endpoint.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	// The connection outlives the dial context.
	connCtx, cancel := context.WithCancel(context.Background())
	return &Conn{ws: ws, ctx: connCtx, cancel: cancel}, nil
}

// Send encodes and transmits one envelope to the server mailbox.
func (c *Conn) Send(env *proto.Envelope) error {
	payload, err := env.MarshalBinary()
	if err != nil {
		return err
	}
	return c.ws.Write(c.ctx, websocket.MessageBinary, payload)
}

// Receive blocks for the next envelope from the private mailbox. It
// fails once Close tears the connection down.
func (c *Conn) Receive() (*proto.Envelope, error) {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		var env proto.Envelope
		if err := env.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return &env, nil
	}
}

// Close tears the connection down, unblocking any pending Receive.
func (c *Conn) Close() error {
	c.cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	return nil
}
