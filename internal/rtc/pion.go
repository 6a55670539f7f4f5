package rtc

import (
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// Pion implements API on the pion WebRTC stack.
type Pion struct{}

var _ API = Pion{}

// NewConnection builds a pion peer connection with the configured ICE
// servers.
func (Pion) NewConnection(cfg Config) (Connection, error) {
	servers := make([]pion.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		server := pion.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *pion.PeerConnection
}

func (c *pionConnection) CreateDataChannel(label string) (Channel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	return &pionChannel{dc: dc}, nil
}

func (c *pionConnection) CreateOffer() (Description, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("creating offer: %w", err)
	}
	return Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *pionConnection) CreateAnswer() (Description, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("creating answer: %w", err)
	}
	return Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *pionConnection) SetLocalDescription(d Description) error {
	if err := c.pc.SetLocalDescription(toPionDescription(d)); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	return nil
}

func (c *pionConnection) SetRemoteDescription(d Description) error {
	if err := c.pc.SetRemoteDescription(toPionDescription(d)); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (c *pionConnection) AddCandidate(cd Candidate) error {
	init := pion.ICECandidateInit{
		Candidate:     cd.Candidate,
		SDPMid:        cd.SDPMid,
		SDPMLineIndex: cd.SDPMLineIndex,
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

func (c *pionConnection) OnCandidate(fn func(Candidate)) {
	c.pc.OnICECandidate(func(cd *pion.ICECandidate) {
		// pion signals end of gathering with nil.
		if cd == nil {
			return
		}
		init := cd.ToJSON()
		fn(Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (c *pionConnection) OnStateChange(fn func(State)) {
	c.pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		fn(toState(s))
	})
}

func (c *pionConnection) OnDataChannel(fn func(Channel)) {
	c.pc.OnDataChannel(func(dc *pion.DataChannel) {
		fn(&pionChannel{dc: dc})
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

type pionChannel struct {
	dc *pion.DataChannel
}

func (ch *pionChannel) Label() string { return ch.dc.Label() }

func (ch *pionChannel) Send(data []byte) error {
	if err := ch.dc.Send(data); err != nil {
		return fmt.Errorf("sending on data channel: %w", err)
	}
	return nil
}

func (ch *pionChannel) OnOpen(fn func()) { ch.dc.OnOpen(fn) }

func (ch *pionChannel) OnMessage(fn func([]byte)) {
	ch.dc.OnMessage(func(m pion.DataChannelMessage) {
		fn(m.Data)
	})
}

func (ch *pionChannel) OnClose(fn func()) { ch.dc.OnClose(fn) }

func (ch *pionChannel) Close() error { return ch.dc.Close() }

func toPionDescription(d Description) pion.SessionDescription {
	return pion.SessionDescription{Type: pion.NewSDPType(d.Type), SDP: d.SDP}
}

func toState(s pion.PeerConnectionState) State {
	switch s {
	case pion.PeerConnectionStateNew:
		return StateNew
	case pion.PeerConnectionStateConnecting:
		return StateConnecting
	case pion.PeerConnectionStateConnected:
		return StateConnected
	case pion.PeerConnectionStateDisconnected:
		return StateDisconnected
	case pion.PeerConnectionStateFailed:
		return StateFailed
	case pion.PeerConnectionStateClosed:
		return StateClosed
	}
	return StateNew
}
