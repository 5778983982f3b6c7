package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendReceiveFIFO(t *testing.T) {
	req := require.New(t)
	br := NewBroker()
	h := br.Create()

	req.NoError(br.Send(h, []byte("one")))
	req.NoError(br.Send(h, []byte("two")))
	req.NoError(br.Send(h, []byte("three")))

	for _, want := range []string{"one", "two", "three"} {
		got, err := br.Receive(h)
		req.NoError(err)
		req.Equal(want, string(got))
	}
}

func TestSendToUnknownMailbox(t *testing.T) {
	br := NewBroker()
	require.ErrorIs(t, br.Send(Handle(999), []byte("x")), ErrNoSuchMailbox)
}

func TestDestroyUnblocksPendingReceive(t *testing.T) {
	br := NewBroker()
	h := br.Create()

	errCh := make(chan error, 1)
	go func() {
		_, err := br.Receive(h)
		errCh <- err
	}()

	// Give the receiver time to block.
	time.Sleep(20 * time.Millisecond)
	br.Destroy(h)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrMailboxDestroyed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending receive was not unblocked by destroy")
	}
}

func TestSendAfterDestroy(t *testing.T) {
	br := NewBroker()
	h := br.Create()
	br.Destroy(h)
	require.ErrorIs(t, br.Send(h, []byte("x")), ErrNoSuchMailbox)
}

func TestHandlesAreNotReused(t *testing.T) {
	req := require.New(t)
	br := NewBroker()

	seen := make(map[Handle]struct{})
	for range 100 {
		h := br.Create()
		_, dup := seen[h]
		req.False(dup, "handle %d reused", h)
		seen[h] = struct{}{}
		br.Destroy(h)
	}
}

func TestBindResolve(t *testing.T) {
	req := require.New(t)
	br := NewBroker()
	h := br.Create()

	req.NoError(br.Bind("server", h))
	req.ErrorIs(br.Bind("server", h), ErrNameTaken)

	got, ok := br.Resolve("server")
	req.True(ok)
	req.Equal(h, got)

	br.Destroy(h)
	_, ok = br.Resolve("server")
	req.False(ok)
}
