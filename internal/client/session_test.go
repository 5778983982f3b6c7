package client

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/mailroom/internal/proto"
)

type fakeConn struct {
	mu        sync.Mutex
	sent      []*proto.Envelope
	closes    int
	incoming  chan *proto.Envelope
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan *proto.Envelope, 8)}
}

func (f *fakeConn) Send(env *proto.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeConn) Receive() (*proto.Envelope, error) {
	env, ok := <-f.incoming
	if !ok {
		return nil, errors.New("mailbox destroyed")
	}
	return env, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.incoming) })
	return nil
}

func (f *fakeConn) sentKinds() []proto.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]proto.Kind, 0, len(f.sent))
	for _, env := range f.sent {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

// syncBuffer guards concurrent writes from the command and notification
// loops during tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runSession(t *testing.T, conn Conn, input string) string {
	t.Helper()

	out := &syncBuffer{}
	logger := zerolog.Nop()
	s := NewSession(conn, "alice", strings.NewReader(input), out, &logger)
	require.NoError(t, s.Run())
	return out.String()
}

func TestCommandsRequiringRoomShortCircuitLocally(t *testing.T) {
	conn := newFakeConn()
	out := runSession(t, conn, "/leave\n/users\nhello\n/wat\n\n/exit\n")

	require.Contains(t, out, "You are not in a room.")
	require.Contains(t, out, "You are not in a room. Use /join <room>.")
	require.Contains(t, out, "Unknown command.")

	// Nothing reached the server except the closing notice.
	require.Equal(t, []proto.Kind{proto.KindClientClosing}, conn.sentKinds())
}

func TestJoinCachesRoomAndRoutesCommands(t *testing.T) {
	conn := newFakeConn()
	runSession(t, conn, "/join lobby\nhola\n/users\n/list\n/leave\n/exit\n")

	require.Equal(t, []proto.Kind{
		proto.KindJoinRoom,
		proto.KindSendMessage,
		proto.KindListUsers,
		proto.KindListRooms,
		proto.KindLeaveRoom,
		proto.KindClientClosing,
	}, conn.sentKinds())

	require.Equal(t, "lobby", conn.sent[0].Room)
	require.Equal(t, "lobby", conn.sent[1].Room)
	require.Equal(t, "hola", conn.sent[1].Text)
	require.Equal(t, "alice", conn.sent[1].User)
}

func TestLeaveClearsCachedRoom(t *testing.T) {
	conn := newFakeConn()
	out := runSession(t, conn, "/join lobby\n/leave\nhello again\n/exit\n")

	require.Contains(t, out, "You are not in a room. Use /join <room>.")
	require.Equal(t, []proto.Kind{
		proto.KindJoinRoom,
		proto.KindLeaveRoom,
		proto.KindClientClosing,
	}, conn.sentKinds())
}

func TestJoinWithoutArgumentIsLocalError(t *testing.T) {
	conn := newFakeConn()
	out := runSession(t, conn, "/join\n/exit\n")

	require.Contains(t, out, "Usage: /join <room>")
	require.Equal(t, []proto.Kind{proto.KindClientClosing}, conn.sentKinds())
}

func TestShutdownIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	logger := zerolog.Nop()
	s := NewSession(conn, "alice", strings.NewReader(""), &syncBuffer{}, &logger)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	require.NoError(t, <-done)

	// A late signal-driven shutdown must not send a second notice.
	s.Shutdown()
	s.Shutdown()

	require.Equal(t, []proto.Kind{proto.KindClientClosing}, conn.sentKinds())
}

func TestNotificationsAreRenderedAsTheyArrive(t *testing.T) {
	conn := newFakeConn()
	out := &syncBuffer{}
	logger := zerolog.Nop()

	stdin, stdinWriter := io.Pipe()
	s := NewSession(conn, "alice", stdin, out, &logger)
	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	conn.incoming <- &proto.Envelope{Kind: proto.KindNotification, Text: "[bob]: hi"}

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[bob]: hi")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, stdinWriter.Close())
	require.NoError(t, <-done)
}
