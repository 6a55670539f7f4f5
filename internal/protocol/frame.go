package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ChannelTag is the first element of every relay frame sent by a client. It
// names the protocol channel so a shared relay can multiplex applications
// over one socket.
const ChannelTag = "peerline"

var (
	ErrEmptyFrame   = errors.New("protocol: empty frame")
	ErrUnknownTag   = errors.New("protocol: unknown channel tag")
	ErrBadFrameHead = errors.New("protocol: malformed frame head")
)

// Meta is the alternative frame head a relay may substitute for the channel
// tag when forwarding. Its fields apply to every message in the frame that
// does not carry its own.
type Meta struct {
	FromPeer string `json:"fromPeer,omitempty"`
	Room     string `json:"room,omitempty"`
}

// EncodeFrame serializes messages into a relay frame: a JSON array whose
// first element is the channel tag and whose remaining elements are the
// messages in order.
func EncodeFrame(msgs ...Message) ([]byte, error) {
	parts := make([]any, 0, len(msgs)+1)
	parts = append(parts, ChannelTag)
	for _, m := range msgs {
		parts = append(parts, m)
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}

// EncodeMetaFrame serializes messages into a frame headed by forwarding
// metadata instead of the channel tag. Relays use it when stamping the
// sender onto forwarded batches.
func EncodeMetaFrame(meta Meta, msgs ...Message) ([]byte, error) {
	parts := make([]any, 0, len(msgs)+1)
	parts = append(parts, meta)
	for _, m := range msgs {
		parts = append(parts, m)
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a relay frame. The head element must be either the
// channel tag or a metadata object; metadata is folded into messages that
// lack their own FromPeer or Room. A frame with a foreign tag is rejected
// with ErrUnknownTag.
func DecodeFrame(data []byte) ([]Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, ErrEmptyFrame
	}

	var meta Meta
	head := bytes.TrimSpace(parts[0])
	switch {
	case len(head) > 0 && head[0] == '"':
		var tag string
		if err := json.Unmarshal(head, &tag); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFrameHead, err)
		}
		if tag != ChannelTag {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
		}
	case len(head) > 0 && head[0] == '{':
		if err := json.Unmarshal(head, &meta); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFrameHead, err)
		}
	default:
		return nil, ErrBadFrameHead
	}

	msgs := make([]Message, 0, len(parts)-1)
	for _, raw := range parts[1:] {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decoding frame message: %w", err)
		}
		if m.FromPeer == "" {
			m.FromPeer = meta.FromPeer
		}
		if m.Room == "" {
			m.Room = meta.Room
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
