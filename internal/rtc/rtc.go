// Package rtc is the narrow seam between connection negotiation and the
// WebRTC stack. The connector speaks these interfaces only; production wiring
// uses the pion implementation and tests substitute an in-memory fabric.
package rtc

// Description mirrors an SDP session description.
type Description struct {
	Type string
	SDP  string
}

// Candidate mirrors a trickled ICE candidate.
type Candidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// State tracks a connection's lifecycle.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ICEServer names a STUN or TURN server with optional credentials.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Config carries the ICE servers used when building connections.
type Config struct {
	ICEServers []ICEServer
}

// API builds peer connections.
type API interface {
	NewConnection(cfg Config) (Connection, error)
}

// Connection is one peer connection under negotiation. Callback registration
// must happen before the connection starts exchanging descriptions;
// implementations invoke callbacks from their own goroutines.
type Connection interface {
	CreateDataChannel(label string) (Channel, error)
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddCandidate(Candidate) error

	OnCandidate(func(Candidate))
	OnStateChange(func(State))
	OnDataChannel(func(Channel))

	Close() error
}

// Channel is a bidirectional data channel.
type Channel interface {
	Label() string
	Send(data []byte) error

	OnOpen(func())
	OnMessage(func(data []byte))
	OnClose(func())

	Close() error
}
