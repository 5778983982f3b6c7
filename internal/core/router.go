package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/mailroom/internal/mailbox"
	"github.com/vovakirdan/mailroom/internal/proto"
)

// systemUser signs system notifications in room history.
const systemUser = "SYSTEM"

// History is the append-only per-room log sink. Appends are best-effort:
// a failure is reported but never aborts routing.
type History interface {
	Append(room, user, text string, at time.Time) error
}

// Router consumes the server mailbox one envelope at a time and applies
// it to the registry. It is the sole mutator of the registry, so handlers
// run without any cross-command synchronization.
type Router struct {
	broker  *mailbox.Broker
	inbox   mailbox.Handle
	reg     *Registry
	history History // may be nil
	log     *zerolog.Logger
}

// NewRouter wires a router to its mailbox and registry.
func NewRouter(broker *mailbox.Broker, inbox mailbox.Handle, reg *Registry, history History, logger *zerolog.Logger) *Router {
	return &Router{
		broker:  broker,
		inbox:   inbox,
		reg:     reg,
		history: history,
		log:     logger,
	}
}

// Run blocks consuming the server mailbox until the context is cancelled.
// Cancellation destroys the mailbox, which fails the pending receive; the
// in-flight envelope is always processed to completion first.
func (r *Router) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.broker.Destroy(r.inbox)
	})
	defer stop()

	for {
		payload, err := r.broker.Receive(r.inbox)
		if err != nil {
			if errors.Is(err, mailbox.ErrMailboxDestroyed) {
				if ctx.Err() != nil {
					r.log.Info().Msg("server mailbox released, router stopping")
					return nil
				}
				return fmt.Errorf("server mailbox destroyed: %w", err)
			}
			// Transient receive faults are retried, never fatal.
			r.log.Warn().Err(err).Msg("receive failed, retrying")
			continue
		}

		var env proto.Envelope
		if err := env.UnmarshalBinary(payload); err != nil {
			r.log.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}
		r.dispatch(&env)
	}
}

func (r *Router) dispatch(env *proto.Envelope) {
	if env.ReplyMailbox == 0 {
		r.log.Warn().Stringer("kind", env.Kind).Msg("dropping envelope without reply mailbox")
		return
	}

	switch env.Kind {
	case proto.KindJoinRoom:
		r.handleJoin(env)
	case proto.KindLeaveRoom:
		r.handleLeave(env)
	case proto.KindSendMessage:
		r.handleMessage(env)
	case proto.KindListRooms:
		r.handleListRooms(env)
	case proto.KindListUsers:
		r.handleListUsers(env)
	case proto.KindClientClosing:
		r.handleClientClosing(env)
	default:
		r.log.Warn().Stringer("kind", env.Kind).Msg("dropping envelope of unknown kind")
	}
}

func (r *Router) handleJoin(env *proto.Envelope) {
	reply := mailbox.Handle(env.ReplyMailbox)

	c, err := r.reg.FindOrCreateClient(reply, env.User)
	if err != nil {
		r.log.Info().Str("code", ErrCodeCapacityExceeded).Str("user", env.User).Msg("join rejected")
		r.respondError(reply, "The server is full.")
		return
	}

	// Re-joining from another room first performs a silent leave, so the
	// client never transiently holds two memberships.
	if c.Room != nil {
		r.leave(c, false)
	}

	room, err := r.reg.FindOrCreateRoom(env.Room)
	if err != nil {
		r.log.Info().Str("code", ErrCodeCapacityExceeded).Str("room", env.Room).Msg("room creation rejected")
		r.respondError(reply, "Could not create room (limit reached).")
		return
	}

	if err := r.reg.Join(c, room); err != nil {
		r.log.Info().Str("code", ErrCodeRoomFull).Str("room", room.Name).Msg("join rejected")
		r.respondError(reply, "The room is full.")
		return
	}

	r.respondOK(reply, fmt.Sprintf("You joined room '%s'.", room.Name))

	text := fmt.Sprintf("[SYSTEM] %s joined the room.", c.Name)
	r.broadcast(room, text, c.Handle)
	r.appendHistory(room.Name, systemUser, text)

	r.log.Info().Str("user", c.Name).Str("room", room.Name).Msg("client joined room")
}

func (r *Router) handleLeave(env *proto.Envelope) {
	reply := mailbox.Handle(env.ReplyMailbox)

	c, ok := r.reg.FindClient(reply)
	if !ok || c.Room == nil {
		r.respondError(reply, "You are not in a room.")
		return
	}
	r.leave(c, true)
}

// leave is the single internal leave operation, shared by the explicit
// LEAVE_ROOM handler, the pre-join cleanup, and the disconnect path.
func (r *Router) leave(c *Client, notifySelf bool) {
	room := r.reg.Leave(c)
	if room == nil {
		return
	}

	if notifySelf {
		r.respondOK(c.Handle, "You left the room.")
	}

	// The leaver is already removed, so the broadcast excludes nobody.
	text := fmt.Sprintf("[SYSTEM] %s left the room.", c.Name)
	r.broadcast(room, text, 0)
	r.appendHistory(room.Name, systemUser, text)

	r.log.Info().Str("user", c.Name).Str("room", room.Name).Msg("client left room")
}

func (r *Router) handleMessage(env *proto.Envelope) {
	reply := mailbox.Handle(env.ReplyMailbox)

	c, ok := r.reg.FindClient(reply)
	if !ok || c.Room == nil {
		r.log.Debug().Str("code", ErrCodeNotInRoom).Str("user", env.User).Msg("message rejected")
		r.respondError(reply, "You are not in a room.")
		return
	}

	text := proto.Truncate(fmt.Sprintf("[%s]: %s", c.Name, env.Text), proto.MaxTextLen)
	r.broadcast(c.Room, text, c.Handle)
	r.appendHistory(c.Room.Name, c.Name, env.Text)
}

func (r *Router) handleListRooms(env *proto.Envelope) {
	var b strings.Builder
	b.WriteString("Available rooms:\n")

	rooms := r.reg.Rooms()
	if len(rooms) == 0 {
		b.WriteString(" - no active rooms.\n")
	}
	limit := r.reg.Limits().MaxRoomMembers
	for _, room := range rooms {
		entry := fmt.Sprintf(" - %s (%d/%d)\n", room.Name, len(room.Members), limit)
		// Whole entries only: once the response budget is hit, further
		// rooms are omitted entirely.
		if b.Len()+len(entry) > proto.MaxTextLen {
			break
		}
		b.WriteString(entry)
	}

	r.respondOK(mailbox.Handle(env.ReplyMailbox), b.String())
}

func (r *Router) handleListUsers(env *proto.Envelope) {
	reply := mailbox.Handle(env.ReplyMailbox)

	c, ok := r.reg.FindClient(reply)
	if !ok || c.Room == nil {
		r.respondError(reply, "You are not in a room.")
		return
	}

	names := lo.Map(c.Room.Members, func(m *Client, _ int) string { return m.Name })

	var b strings.Builder
	fmt.Fprintf(&b, "Users in '%s':\n", c.Room.Name)
	for _, name := range names {
		entry := fmt.Sprintf(" - %s\n", name)
		if b.Len()+len(entry) > proto.MaxTextLen {
			break
		}
		b.WriteString(entry)
	}

	r.respondOK(reply, b.String())
}

func (r *Router) handleClientClosing(env *proto.Envelope) {
	reply := mailbox.Handle(env.ReplyMailbox)

	c, room := r.reg.RemoveClient(reply)
	if c == nil {
		return
	}

	// No response to the closing client: its mailbox may already be gone.
	if room != nil {
		text := fmt.Sprintf("[SYSTEM] %s left the room.", c.Name)
		r.broadcast(room, text, 0)
		r.appendHistory(room.Name, systemUser, text)
	}

	r.log.Info().Str("user", c.Name).Uint32("mailbox", uint32(reply)).Msg("client disconnected")
}

// broadcast fans a notification out to every room member except the
// excluded handle. A recipient whose mailbox is gone is skipped silently;
// it neither aborts the fan-out nor counts as a router fault.
func (r *Router) broadcast(room *Room, text string, exclude mailbox.Handle) {
	env := proto.Envelope{Kind: proto.KindNotification, Text: text}
	payload, err := env.MarshalBinary()
	if err != nil {
		r.log.Error().Err(err).Msg("encode notification")
		return
	}
	for _, m := range room.Members {
		if m.Handle == exclude {
			continue
		}
		if err := r.broker.Send(m.Handle, payload); err != nil && !errors.Is(err, mailbox.ErrNoSuchMailbox) {
			r.log.Warn().Err(err).Uint32("mailbox", uint32(m.Handle)).Msg("notification delivery failed")
		}
	}
}

func (r *Router) respondOK(h mailbox.Handle, text string) {
	r.respond(h, proto.KindResponseOK, text)
}

func (r *Router) respondError(h mailbox.Handle, text string) {
	r.respond(h, proto.KindResponseError, text)
}

func (r *Router) respond(h mailbox.Handle, kind proto.Kind, text string) {
	env := proto.Envelope{Kind: kind, Text: text}
	payload, err := env.MarshalBinary()
	if err != nil {
		r.log.Error().Err(err).Msg("encode response")
		return
	}
	if err := r.broker.Send(h, payload); err != nil && !errors.Is(err, mailbox.ErrNoSuchMailbox) {
		r.log.Warn().Err(err).Uint32("mailbox", uint32(h)).Msg("response delivery failed")
	}
}

func (r *Router) appendHistory(room, user, text string) {
	if r.history == nil {
		return
	}
	if err := r.history.Append(room, user, text, time.Now()); err != nil {
		r.log.Warn().Err(err).Str("room", room).Msg("history append failed")
	}
}
