package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 64 << 20

// ErrMessageTooLarge is returned for frames above MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

// envelope is the wire form of a Message: the discriminator plus the body
// encoded separately so it can be decoded into the matching type.
type envelope struct {
	Type Type               `msgpack:"type"`
	Body msgpack.RawMessage `msgpack:"body,omitempty"`
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// Marshal encodes m as msgpack. An owned bitmap Mat is JPEG encoded and
// released.
func Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("marshal %q: %w", m.Type, err)
	}

	var body any
	switch m.Type {
	case TypeInit:
		body = m.Init
	case TypeFrame:
		req := *m.Frame
		payload, err := req.Frame.forWire()
		if err != nil {
			return nil, err
		}
		req.Frame = payload
		body = &req
	case TypeInitResult:
		body = m.InitResult
	case TypeFrameResult:
		body = m.FrameResult
	case TypeError:
		body = m.Error
	}

	env := envelope{Type: m.Type}
	if body != nil {
		raw, err := marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %q body: %w", m.Type, err)
		}
		env.Body = raw
	}
	return marshal(&env)
}

// Unmarshal decodes a message produced by Marshal.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	m := Message{Type: env.Type}
	var target any
	switch env.Type {
	case TypeInit:
		m.Init = &InitRequest{}
		target = m.Init
	case TypeFrame:
		m.Frame = &FrameRequest{}
		target = m.Frame
	case TypeDispose:
		return m, nil
	case TypeInitResult:
		m.InitResult = &InitResult{}
		target = m.InitResult
	case TypeFrameResult:
		m.FrameResult = &FrameResult{}
		target = m.FrameResult
	case TypeError:
		m.Error = &ErrorMessage{}
		target = m.Error
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Body) == 0 {
		return Message{}, fmt.Errorf("%w: %q without body", ErrMalformed, env.Type)
	}
	if err := unmarshal(env.Body, target); err != nil {
		return Message{}, fmt.Errorf("%w: %q body: %v", ErrMalformed, env.Type, err)
	}
	return m, nil
}

// WriteMessage writes m with a 4-byte big-endian length prefix.
func WriteMessage(w io.Writer, m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message. It returns io.EOF when the
// stream ends cleanly between messages.
func ReadMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return Unmarshal(data)
}
