package connector

import (
	"time"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
	"github.com/peerline-net/peerline/internal/rtc"
)

// Negotiation flow. The relay's WELCOME tells the joiner who is already
// present; the joiner offers to each of them. The other side answers offers
// as they arrive. Candidates trickle in both directions until the channel
// opens. Only the joining side offers, so two peers never race to connect
// except when both join at the same instant, and the re-offer nudge heals
// that case.

func (c *Connector) handleWelcome(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.registry.lookup(m.Room)
	if room == nil || room.closed {
		c.log.Debug("welcome for unknown room", "room", m.Room)
		return
	}
	room.stopEntryTimerLocked()
	room.entryState = EntryEntered
	c.log.Info("entered room", "room", room.name, "present", len(m.RemotePeerIDs))

	self := c.keys.ID()
	for _, raw := range m.RemotePeerIDs {
		pid := identity.ID(raw)
		if pid == self || !pid.Valid() {
			continue
		}
		if !room.allowedLocked(pid) {
			c.log.Warn("roster peer not in allow-list", "room", room.name, "peer", pid.Short())
			continue
		}
		p := room.ensurePeerLocked(pid)
		if p.negotiatingLocked() {
			continue
		}
		c.startOfferLocked(room, p)
	}
}

// startOfferLocked builds a connection toward p and sends the offer. The
// offerer creates the data channel; the answerer receives it through the
// connection.
func (c *Connector) startOfferLocked(room *Room, p *Peer) {
	p.role = RoleOfferer

	conn, err := c.api.NewConnection(c.cfg.RTC)
	if err != nil {
		c.failPeerLocked(room, p, "creating connection", err)
		return
	}
	p.conn = conn
	c.wireConnectionLocked(room, p, conn)

	ch, err := conn.CreateDataChannel(c.cfg.ChannelLabel)
	if err != nil {
		c.failPeerLocked(room, p, "creating data channel", err)
		return
	}
	c.attachChannelLocked(room, p, ch)

	offer, err := conn.CreateOffer()
	if err != nil {
		c.failPeerLocked(room, p, "creating offer", err)
		return
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		c.failPeerLocked(room, p, "applying local offer", err)
		return
	}

	c.log.Debug("offering", "room", room.name, "peer", p.id.Short())
	c.sendLocked(protocol.Offer(room.name, p.id, offer.SDP))
}

func (c *Connector) handleOffer(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.registry.lookup(m.Room)
	if room == nil || room.closed {
		c.log.Debug("offer for unknown room", "room", m.Room)
		return
	}
	pid := m.From()
	if !pid.Valid() {
		c.log.Warn("offer without sender identity", "room", room.name)
		return
	}
	if !room.allowedLocked(pid) {
		c.log.Warn("offer from non-member", "room", room.name, "peer", pid.Short())
		return
	}

	p := room.ensurePeerLocked(pid)
	if p.connectedLocked() {
		c.log.Debug("offer from connected peer ignored", "room", room.name, "peer", pid.Short())
		return
	}
	if p.conn != nil {
		// The remote is renegotiating; its offer supersedes whatever attempt
		// was in flight here.
		room.teardownPeerLocked(p, false)
	}

	p.role = RoleAnswerer
	conn, err := c.api.NewConnection(c.cfg.RTC)
	if err != nil {
		c.failPeerLocked(room, p, "creating connection", err)
		return
	}
	p.conn = conn
	c.wireConnectionLocked(room, p, conn)

	if err := conn.SetRemoteDescription(rtc.Description{Type: "offer", SDP: m.SDP}); err != nil {
		c.failPeerLocked(room, p, "applying remote offer", err)
		return
	}
	answer, err := conn.CreateAnswer()
	if err != nil {
		c.failPeerLocked(room, p, "creating answer", err)
		return
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		c.failPeerLocked(room, p, "applying local answer", err)
		return
	}

	c.log.Debug("answering", "room", room.name, "peer", pid.Short())
	c.sendLocked(protocol.Answer(room.name, pid, answer.SDP))
}

func (c *Connector) handleAnswer(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.registry.lookup(m.Room)
	if room == nil || room.closed {
		c.log.Debug("answer for unknown room", "room", m.Room)
		return
	}
	p := room.peers[m.From()]
	if p == nil || p.conn == nil || p.role != RoleOfferer {
		c.log.Debug("answer without matching offer", "room", m.Room, "peer", m.From().Short())
		return
	}
	if err := p.conn.SetRemoteDescription(rtc.Description{Type: "answer", SDP: m.SDP}); err != nil {
		c.failPeerLocked(room, p, "applying remote answer", err)
	}
}

func (c *Connector) handleCandidate(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.registry.lookup(m.Room)
	if room == nil || room.closed {
		c.log.Debug("candidate for unknown room", "room", m.Room)
		return
	}
	p := room.peers[m.From()]
	if p == nil || p.conn == nil {
		c.log.Debug("candidate without negotiation", "room", m.Room, "peer", m.From().Short())
		return
	}

	candidate := rtc.Candidate{
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	}
	if err := p.conn.AddCandidate(candidate); err != nil {
		c.log.Warn("applying candidate failed", "room", room.name, "peer", p.id.Short(), "error", err)
		return
	}

	// The answerer waits on the offerer's channel to reach it. If that still
	// has not happened shortly after candidates flowed, flip direction and
	// offer from here instead, once.
	if p.role == RoleAnswerer && !p.reconnectTried && !p.connectedLocked() {
		c.armReconnectLocked(room, p)
	}
}

func (c *Connector) armReconnectLocked(room *Room, p *Peer) {
	p.stopReconnectLocked()
	p.reconnectTimer = time.AfterFunc(c.timing.ReconnectDelay, func() { c.reconnectNudge(room, p) })
}

func (c *Connector) reconnectNudge(room *Room, p *Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.reconnectTried || p.connectedLocked() || p.role != RoleAnswerer || p.conn == nil {
		return
	}
	p.reconnectTried = true
	c.log.Info("inbound connection stalled, re-offering", "room", room.name, "peer", p.id.Short())
	room.teardownPeerLocked(p, false)
	c.startOfferLocked(room, p)
}

// wireConnectionLocked hooks connection callbacks up to the connector. Every
// handler re-checks under the lock that the connection is still current, so
// callbacks from a torn-down attempt fall through harmlessly.
func (c *Connector) wireConnectionLocked(room *Room, p *Peer, conn rtc.Connection) {
	conn.OnCandidate(func(cd rtc.Candidate) { c.localCandidate(room, p, conn, cd) })
	conn.OnStateChange(func(s rtc.State) { c.connectionStateChanged(room, p, conn, s) })
	conn.OnDataChannel(func(ch rtc.Channel) { c.remoteChannel(room, p, conn, ch) })
}

func (c *Connector) localCandidate(room *Room, p *Peer, conn rtc.Connection, cd rtc.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.conn != conn {
		return
	}
	c.sendLocked(protocol.NewCandidate(room.name, p.id, cd.Candidate, cd.SDPMid, cd.SDPMLineIndex))
}

func (c *Connector) connectionStateChanged(room *Room, p *Peer, conn rtc.Connection, s rtc.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.conn != conn {
		return
	}
	switch s {
	case rtc.StateConnected:
		c.log.Debug("connection established", "room", room.name, "peer", p.id.Short())
	case rtc.StateDisconnected, rtc.StateFailed:
		c.log.Warn("connection lost", "room", room.name, "peer", p.id.Short(), "state", s.String())
		room.teardownPeerLocked(p, true)
		room.evictIfIdleLocked()
	}
}

// remoteChannel attaches the channel the offerer created, arriving on the
// answerer side.
func (c *Connector) remoteChannel(room *Room, p *Peer, conn rtc.Connection, ch rtc.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.conn != conn {
		go ch.Close()
		return
	}
	if p.channel != nil {
		c.log.Warn("duplicate data channel refused", "room", room.name, "peer", p.id.Short())
		go ch.Close()
		return
	}
	if ch.Label() != c.cfg.ChannelLabel {
		c.log.Warn("unexpected channel label", "room", room.name, "peer", p.id.Short(), "label", ch.Label())
	}
	c.attachChannelLocked(room, p, ch)
}

func (c *Connector) failPeerLocked(room *Room, p *Peer, op string, err error) {
	e := newPeerError(room.name, p.id, op, err)
	c.log.Error("peer negotiation failed", "room", room.name, "peer", p.id.Short(), "op", op, "error", err)
	room.teardownPeerLocked(p, true)
	room.emitFailureLocked(p.id, e)
	room.evictIfIdleLocked()
}

// sendLocked queues a relay send on the event loop, keeping slow transport
// work out of the lock.
func (c *Connector) sendLocked(msgs ...protocol.Message) {
	c.emit(func() { c.link.Send(msgs...) })
}
