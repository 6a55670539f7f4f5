package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/peerline-net/peerline/internal/identity"
)

// Channel frame types exchanged over peer data channels.
const (
	ChannelGetProof = "GET_PROOF_IDENTITY"
	ChannelProof    = "PROOF_IDENTITY"
	ChannelCheck    = "CHECK_CHANNEL"
	ChannelMessage  = "MESSAGE"
)

// Frame represents all data channel messages.
type Frame struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// GetProofPayload opens the peer verification handshake: the sender asks the
// receiver to sign Challenge and announces its own claimed identity.
type GetProofPayload struct {
	Challenge string `msgpack:"challenge"`
	PublicKey string `msgpack:"publicKey"`
}

// ProofPayload answers a GetProof request. Data echoes the challenge that
// was signed. A receiver that refuses the presented identity replies with
// Rejected set instead of a signature.
type ProofPayload struct {
	identity.Proof
	Rejected bool   `msgpack:"rejected,omitempty"`
	Reason   string `msgpack:"reason,omitempty"`
}

// CheckPayload probes channel liveness. The receiver echoes the frame back
// unchanged; the original sender recognizes its own value and stops.
type CheckPayload struct {
	Room  string `msgpack:"room"`
	Value string `msgpack:"value"`
}

// ChatPayload carries an application message.
type ChatPayload struct {
	Timestamp int64  `msgpack:"timestamp"`
	Text      string `msgpack:"text"`
}

// NewFrame creates a Frame with the given type and payload.
func NewFrame(t string, payload any) (Frame, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}

	return Frame{
		Type:    t,
		Payload: b,
	}, nil
}

// DecodePayload decodes the frame payload into the provided struct.
func (f Frame) DecodePayload(v any) error {
	if err := msgpack.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", f.Type, err)
	}
	return nil
}

// Marshal serializes the frame for transmission on a data channel.
func (f Frame) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return b, nil
}

// UnmarshalFrame parses a data channel message into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	return f, nil
}
