package core

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mailroom/internal/mailbox"
	"github.com/vovakirdan/mailroom/internal/proto"
)

func defaultLimits() Limits {
	return Limits{MaxClients: 50, MaxRooms: 10, MaxRoomMembers: 50}
}

// rig drives the router synchronously: commands are dispatched inline, so
// every outbound envelope is already queued when a test starts receiving.
type rig struct {
	t      testing.TB
	broker *mailbox.Broker
	reg    *Registry
	router *Router
}

func newRig(t testing.TB, limits Limits) *rig {
	t.Helper()

	broker := mailbox.NewBroker()
	inbox := broker.Create()
	reg := NewRegistry(limits)
	logger := zerolog.Nop()
	return &rig{
		t:      t,
		broker: broker,
		reg:    reg,
		router: NewRouter(broker, inbox, reg, nil, &logger),
	}
}

func (r *rig) client(user string) *rigClient {
	return &rigClient{rig: r, user: user, handle: r.broker.Create()}
}

type rigClient struct {
	rig    *rig
	user   string
	handle mailbox.Handle
}

func (c *rigClient) send(kind proto.Kind, room, text string) {
	c.rig.t.Helper()

	env := proto.Envelope{
		Kind:         kind,
		ReplyMailbox: uint32(c.handle),
		User:         c.user,
		Room:         room,
		Text:         text,
	}
	payload, err := env.MarshalBinary()
	if err != nil {
		c.rig.t.Fatalf("marshal envelope: %v", err)
	}
	var decoded proto.Envelope
	if err := decoded.UnmarshalBinary(payload); err != nil {
		c.rig.t.Fatalf("unmarshal envelope: %v", err)
	}
	c.rig.router.dispatch(&decoded)
}

func (c *rigClient) join(room string) { c.send(proto.KindJoinRoom, room, "") }
func (c *rigClient) leave()           { c.send(proto.KindLeaveRoom, "", "") }
func (c *rigClient) say(text string)  { c.send(proto.KindSendMessage, "", text) }
func (c *rigClient) closing()         { c.send(proto.KindClientClosing, "", "") }
func (c *rigClient) listRooms()       { c.send(proto.KindListRooms, "", "") }
func (c *rigClient) listUsers()       { c.send(proto.KindListUsers, "", "") }

// mustReceive asserts that the next envelope in the client's mailbox has
// the wanted kind and returns it.
func (c *rigClient) mustReceive(kind proto.Kind) *proto.Envelope {
	c.rig.t.Helper()

	type result struct {
		env *proto.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		payload, err := c.rig.broker.Receive(c.handle)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		var env proto.Envelope
		if err := env.UnmarshalBinary(payload); err != nil {
			ch <- result{nil, err}
			return
		}
		ch <- result{&env, nil}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			c.rig.t.Fatalf("receive: %v", res.err)
		}
		if res.env.Kind != kind {
			c.rig.t.Fatalf("expected %v, got %v (text %q)", kind, res.env.Kind, res.env.Text)
		}
		return res.env
	case <-time.After(2 * time.Second):
		c.rig.t.Fatalf("expected envelope of kind %v, mailbox stayed empty", kind)
		return nil
	}
}

// mustBeIdle proves the mailbox holds nothing: a probe command is issued
// and its response must be the very next envelope received (FIFO order
// would surface any earlier leftover first).
func (c *rigClient) mustBeIdle() {
	c.rig.t.Helper()

	c.listRooms()
	env := c.mustReceive(proto.KindResponseOK)
	if !strings.HasPrefix(env.Text, "Available rooms:") {
		c.rig.t.Fatalf("probe answered with unexpected text %q", env.Text)
	}
}
