// Package mailbox provides the in-process transport the relay runs on:
// addressable FIFO mailboxes identified by opaque integer handles.
package mailbox

import (
	"errors"
	"sync"
)

// Handle addresses one mailbox. Handles are never reused while the
// broker is alive.
type Handle uint32

var (
	// ErrNoSuchMailbox is returned by Send when the target does not exist
	// (or existed once and has been destroyed).
	ErrNoSuchMailbox = errors.New("mailbox: no such mailbox")
	// ErrMailboxDestroyed is returned by Receive when the mailbox was
	// destroyed, including while a receive was pending.
	ErrMailboxDestroyed = errors.New("mailbox: destroyed")
	// ErrNameTaken is returned by Bind for an already bound name.
	ErrNameTaken = errors.New("mailbox: name already bound")
)

type box struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]byte
	destroyed bool
}

func newBox() *box {
	b := &box{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Broker owns every mailbox of one relay instance.
type Broker struct {
	mu    sync.Mutex
	next  Handle
	boxes map[Handle]*box
	names map[string]Handle
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		next:  1,
		boxes: make(map[Handle]*box),
		names: make(map[string]Handle),
	}
}

// Create allocates a fresh mailbox and returns its handle.
func (br *Broker) Create() Handle {
	br.mu.Lock()
	defer br.mu.Unlock()

	h := br.next
	br.next++
	br.boxes[h] = newBox()
	return h
}

// Bind registers a well-known name for an existing mailbox.
func (br *Broker) Bind(name string, h Handle) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if _, ok := br.names[name]; ok {
		return ErrNameTaken
	}
	if _, ok := br.boxes[h]; !ok {
		return ErrNoSuchMailbox
	}
	br.names[name] = h
	return nil
}

// Resolve looks up a well-known mailbox by name.
func (br *Broker) Resolve(name string) (Handle, bool) {
	br.mu.Lock()
	defer br.mu.Unlock()

	h, ok := br.names[name]
	return h, ok
}

// Destroy removes a mailbox. Pending receivers are woken with
// ErrMailboxDestroyed; undelivered payloads are discarded. Destroying an
// unknown handle is a no-op.
func (br *Broker) Destroy(h Handle) {
	br.mu.Lock()
	b, ok := br.boxes[h]
	if ok {
		delete(br.boxes, h)
		for name, bound := range br.names {
			if bound == h {
				delete(br.names, name)
			}
		}
	}
	br.mu.Unlock()

	if !ok {
		return
	}
	b.mu.Lock()
	b.destroyed = true
	b.queue = nil
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Send appends one payload to the mailbox queue. The queue is unbounded,
// so Send never blocks.
func (br *Broker) Send(h Handle, payload []byte) error {
	br.mu.Lock()
	b, ok := br.boxes[h]
	br.mu.Unlock()
	if !ok {
		return ErrNoSuchMailbox
	}

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrNoSuchMailbox
	}
	b.queue = append(b.queue, payload)
	b.cond.Signal()
	b.mu.Unlock()
	return nil
}

// Receive blocks until a payload arrives or the mailbox is destroyed.
// Payloads are delivered in FIFO order to a single reader.
func (br *Broker) Receive(h Handle) ([]byte, error) {
	br.mu.Lock()
	b, ok := br.boxes[h]
	br.mu.Unlock()
	if !ok {
		return nil, ErrMailboxDestroyed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && !b.destroyed {
		b.cond.Wait()
	}
	if b.destroyed {
		return nil, ErrMailboxDestroyed
	}
	payload := b.queue[0]
	b.queue = b.queue[1:]
	return payload, nil
}
