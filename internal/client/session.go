// Package client implements the interactive chat session: a foreground
// command loop and a background notification receiver sharing one
// connection to the relay.
package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mailroom/internal/proto"
)

// Conn carries envelopes between the session and the relay. Send targets
// the server mailbox; Receive drains the session's private mailbox and
// fails once Close destroys it.
type Conn interface {
	Send(env *proto.Envelope) error
	Receive() (*proto.Envelope, error)
	Close() error
}

// Session runs one user's chat client.
type Session struct {
	conn Conn
	user string
	in   io.Reader
	out  io.Writer
	log  zerolog.Logger

	room     string // current room label, written only by the command loop
	stopping atomic.Bool
	shutdown sync.Once
	recvDone chan struct{}
}

// NewSession builds a session for the given user over an open connection.
func NewSession(conn Conn, user string, in io.Reader, out io.Writer, logger *zerolog.Logger) *Session {
	sessionLog := logger.With().Str("session_id", uuid.NewString()).Str("user", user).Logger()
	return &Session{
		conn:     conn,
		user:     user,
		in:       in,
		out:      out,
		log:      sessionLog,
		recvDone: make(chan struct{}),
	}
}

// Run blocks until the user exits or input ends, then performs the
// shutdown sequence and waits for the notification loop to finish.
func (s *Session) Run() error {
	fmt.Fprintf(s.out, "Welcome to the chat, %s!\n", s.user)
	fmt.Fprintln(s.out, "Commands: /join <room>, /leave, /list, /users, /exit")

	go s.receiveLoop()
	s.commandLoop()

	s.Shutdown()
	<-s.recvDone
	return nil
}

// Shutdown is idempotent and safe to call from a signal handler while
// the command loop is still running. It announces the disconnect, then
// destroys the private mailbox, which unblocks the pending receive.
func (s *Session) Shutdown() {
	s.shutdown.Do(func() {
		s.stopping.Store(true)
		if err := s.conn.Send(&proto.Envelope{
			Kind: proto.KindClientClosing,
			User: s.user,
		}); err != nil {
			s.log.Debug().Err(err).Msg("closing notice not delivered")
		}
		if err := s.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close connection")
		}
		s.log.Info().Msg("session closed")
	})
}

func (s *Session) commandLoop() {
	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return // end of input
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" {
			return
		}
		s.handleLine(line)
	}
}

func (s *Session) handleLine(line string) {
	switch {
	case line == "/join" || strings.HasPrefix(line, "/join "):
		// Room names are single tokens; anything after the first one
		// is ignored.
		fields := strings.Fields(line)
		if len(fields) < 2 {
			fmt.Fprintln(s.out, "Usage: /join <room>")
			return
		}
		room := proto.Truncate(fields[1], proto.MaxNameLen)
		s.room = room
		s.send(proto.KindJoinRoom, room, "")

	case line == "/leave":
		if s.room == "" {
			fmt.Fprintln(s.out, "You are not in a room.")
			return
		}
		s.send(proto.KindLeaveRoom, s.room, "")
		s.room = ""

	case line == "/list":
		s.send(proto.KindListRooms, "", "")

	case line == "/users":
		if s.room == "" {
			fmt.Fprintln(s.out, "You are not in a room.")
			return
		}
		s.send(proto.KindListUsers, s.room, "")

	case strings.HasPrefix(line, "/"):
		fmt.Fprintln(s.out, "Unknown command.")

	default:
		// The local room label is only a cache; the server re-validates.
		if s.room == "" {
			fmt.Fprintln(s.out, "You are not in a room. Use /join <room>.")
			return
		}
		s.send(proto.KindSendMessage, s.room, line)
	}
}

func (s *Session) send(kind proto.Kind, room, text string) {
	err := s.conn.Send(&proto.Envelope{
		Kind: kind,
		User: s.user,
		Room: room,
		Text: text,
	})
	if err != nil {
		s.log.Warn().Err(err).Stringer("kind", kind).Msg("send command")
		fmt.Fprintln(s.out, "Could not reach the server.")
	}
}

func (s *Session) receiveLoop() {
	defer close(s.recvDone)

	for {
		env, err := s.conn.Receive()
		if err != nil {
			// The receive fails when Shutdown destroys the mailbox;
			// that is the expected way out of this loop.
			if !s.stopping.Load() {
				s.log.Warn().Err(err).Msg("receive notification")
			}
			return
		}
		s.render(env)
	}
}

// render repaints the prompt after asynchronous output, so incoming
// messages do not mangle the line being typed.
func (s *Session) render(env *proto.Envelope) {
	text := env.Text
	switch env.Kind {
	case proto.KindResponseError:
		text = color.Danger.Render(text)
	case proto.KindResponseOK:
		text = color.Success.Render(text)
	case proto.KindNotification:
		if strings.HasPrefix(text, "[SYSTEM]") {
			text = color.Note.Render(text)
		}
	}
	fmt.Fprintf(s.out, "\r\033[K%s\n> ", text)
}
