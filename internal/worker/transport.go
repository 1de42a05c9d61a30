package worker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
)

// Transport carries messages between the runtime and one worker.
type Transport interface {
	// Send delivers m. Ownership of any bitmap Mat in m passes to the
	// transport, even on error.
	Send(m Message) error
	// Receive blocks for the next message, ctx cancellation or Close.
	Receive(ctx context.Context) (Message, error)
	// Close releases the transport. Pending and later calls return ErrClosed.
	Close() error
}

// pipeBuffer is how many messages each direction of a Pipe holds.
const pipeBuffer = 4

type pipeShared struct {
	done chan struct{}
	once sync.Once
}

func (s *pipeShared) close() {
	s.once.Do(func() { close(s.done) })
}

type pipeEnd struct {
	in     <-chan Message
	out    chan<- Message
	shared *pipeShared
}

// Pipe returns two connected in-process transports. Messages pass by value
// and bitmap Mats move between the ends without copying. Closing either end
// closes both.
func Pipe() (Transport, Transport) {
	aToB := make(chan Message, pipeBuffer)
	bToA := make(chan Message, pipeBuffer)
	shared := &pipeShared{done: make(chan struct{})}
	return &pipeEnd{in: bToA, out: aToB, shared: shared},
		&pipeEnd{in: aToB, out: bToA, shared: shared}
}

func (p *pipeEnd) Send(m Message) error {
	select {
	case <-p.shared.done:
		releaseFrame(m)
		return ErrClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-p.shared.done:
		releaseFrame(m)
		return ErrClosed
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case <-p.shared.done:
		return Message{}, ErrClosed
	default:
	}
	select {
	case m := <-p.in:
		return m, nil
	case <-p.shared.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.shared.close()
	return nil
}

func releaseFrame(m Message) {
	if m.Frame != nil {
		m.Frame.Frame.Release()
	}
}

type readResult struct {
	msg Message
	err error
}

// StreamTransport speaks length-prefixed msgpack over a byte stream.
type StreamTransport struct {
	w      io.Writer
	closer io.Closer

	writeMu sync.Mutex
	msgs    chan readResult
	done    chan struct{}
	once    sync.Once
}

// NewStreamTransport reads messages from r and writes them to w. closer, if
// non-nil, is closed by Close and should unblock the reader.
func NewStreamTransport(r io.Reader, w io.Writer, closer io.Closer) *StreamTransport {
	t := &StreamTransport{
		w:      w,
		closer: closer,
		msgs:   make(chan readResult),
		done:   make(chan struct{}),
	}
	go t.readLoop(bufio.NewReader(r))
	return t
}

func (t *StreamTransport) readLoop(r io.Reader) {
	defer close(t.msgs)
	for {
		msg, err := ReadMessage(r)
		select {
		case t.msgs <- readResult{msg: msg, err: err}:
		case <-t.done:
			return
		}
		if err != nil && !errors.Is(err, ErrUnknownType) && !errors.Is(err, ErrMalformed) {
			return
		}
	}
}

// Send writes m. Concurrent sends are serialized.
func (t *StreamTransport) Send(m Message) error {
	select {
	case <-t.done:
		releaseFrame(m)
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return WriteMessage(t.w, m)
}

// Receive returns the next decoded message. A message that fails to decode
// is returned as an error without ending the stream; a read error ends it.
func (t *StreamTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-t.done:
		return Message{}, ErrClosed
	default:
	}
	select {
	case r, ok := <-t.msgs:
		if !ok {
			return Message{}, ErrClosed
		}
		return r.msg, r.err
	case <-t.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close stops the transport and closes the underlying stream.
func (t *StreamTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		if t.closer != nil {
			err = t.closer.Close()
		}
	})
	return err
}
