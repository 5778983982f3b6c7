package client

import (
	"github.com/vovakirdan/mailroom/internal/mailbox"
	"github.com/vovakirdan/mailroom/internal/proto"
)

// LocalConn connects a session to a relay hosted in the same process. It
// owns a private mailbox on the broker and stamps its handle into every
// outgoing envelope.
type LocalConn struct {
	broker *mailbox.Broker
	server mailbox.Handle
	own    mailbox.Handle
}

// NewLocalConn allocates a private mailbox and binds the connection to
// the server mailbox.
func NewLocalConn(broker *mailbox.Broker, server mailbox.Handle) *LocalConn {
	return &LocalConn{
		broker: broker,
		server: server,
		own:    broker.Create(),
	}
}

// Handle returns the private mailbox handle.
func (c *LocalConn) Handle() mailbox.Handle {
	return c.own
}

// Send encodes the envelope and posts it to the server mailbox.
func (c *LocalConn) Send(env *proto.Envelope) error {
	stamped := *env
	stamped.ReplyMailbox = uint32(c.own)
	payload, err := stamped.MarshalBinary()
	if err != nil {
		return err
	}
	return c.broker.Send(c.server, payload)
}

// Receive blocks on the private mailbox.
func (c *LocalConn) Receive() (*proto.Envelope, error) {
	payload, err := c.broker.Receive(c.own)
	if err != nil {
		return nil, err
	}
	var env proto.Envelope
	if err := env.UnmarshalBinary(payload); err != nil {
		return nil, err
	}
	return &env, nil
}

// Close destroys the private mailbox, failing any pending Receive.
func (c *LocalConn) Close() error {
	c.broker.Destroy(c.own)
	return nil
}
