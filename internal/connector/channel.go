package connector

import (
	"time"

	"github.com/google/uuid"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
	"github.com/peerline-net/peerline/internal/rtc"
)

// Peer verification runs over the data channel itself. When a channel opens,
// each side independently sends a proof request with a fresh challenge; each
// side answers the other's request by signing the challenge. Only a peer
// whose proof passed every check counts as connected, no matter how long the
// channel has been open.

func (c *Connector) attachChannelLocked(room *Room, p *Peer, ch rtc.Channel) {
	p.channel = ch
	ch.OnOpen(func() { c.channelOpened(room, p, ch) })
	ch.OnMessage(func(data []byte) { c.channelMessage(room, p, ch, data) })
	ch.OnClose(func() { c.channelClosed(room, p, ch) })
}

func (c *Connector) channelOpened(room *Room, p *Peer, ch rtc.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.channel != ch {
		return
	}
	p.channelOpen = true
	room.sawChannel = true
	c.log.Debug("data channel open", "room", room.name, "peer", p.id.Short())

	challenge, err := identity.Challenge()
	if err != nil {
		c.failPeerLocked(room, p, "generating challenge", err)
		return
	}
	p.sentChallenge = challenge
	c.sendFrameLocked(room, p, ch, protocol.ChannelGetProof, protocol.GetProofPayload{
		Challenge: challenge,
		PublicKey: string(c.keys.ID()),
	})
}

func (c *Connector) channelClosed(room *Room, p *Peer, ch rtc.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.channel != ch {
		return
	}
	c.log.Info("data channel closed", "room", room.name, "peer", p.id.Short())
	room.teardownPeerLocked(p, true)
	room.evictIfIdleLocked()
}

func (c *Connector) channelMessage(room *Room, p *Peer, ch rtc.Channel, data []byte) {
	frame, err := protocol.UnmarshalFrame(data)
	if err != nil {
		c.log.Warn("bad channel frame", "room", room.name, "peer", p.id.Short(), "error", err)
		return
	}
	switch frame.Type {
	case protocol.ChannelGetProof:
		c.handleProofRequest(room, p, ch, frame)
	case protocol.ChannelProof:
		c.handleProof(room, p, ch, frame)
	case protocol.ChannelCheck:
		c.handleCheck(room, p, ch, frame)
	case protocol.ChannelMessage:
		c.handleChat(room, p, frame)
	default:
		c.log.Warn("unknown channel frame", "room", room.name, "peer", p.id.Short(), "type", frame.Type)
	}
}

// handleProofRequest signs the peer's challenge. Signing is unconditional;
// it proves nothing beyond possession of our own key, and the peer does the
// gatekeeping on its side.
func (c *Connector) handleProofRequest(room *Room, p *Peer, ch rtc.Channel, frame protocol.Frame) {
	var req protocol.GetProofPayload
	if err := frame.DecodePayload(&req); err != nil {
		c.log.Warn("bad proof request", "room", room.name, "peer", p.id.Short(), "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.channel != ch {
		return
	}
	if req.PublicKey != "" && identity.ID(req.PublicKey) != p.id {
		c.log.Warn("proof request claims unexpected identity", "room", room.name, "peer", p.id.Short())
	}
	c.log.Debug("proving identity to peer", "room", room.name, "peer", p.id.Short())
	c.sendFrameLocked(room, p, ch, protocol.ChannelProof, protocol.ProofPayload{
		Proof: c.keys.Prove(req.Challenge),
	})
}

func (c *Connector) handleProof(room *Room, p *Peer, ch rtc.Channel, frame protocol.Frame) {
	var proof protocol.ProofPayload
	if err := frame.DecodePayload(&proof); err != nil {
		c.log.Warn("bad proof", "room", room.name, "peer", p.id.Short(), "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.channel != ch {
		return
	}

	if proof.Rejected {
		c.log.Warn("peer rejected our identity", "room", room.name, "peer", p.id.Short(), "reason", proof.Reason)
		room.emitRejectedLocked(p.id, proof.Reason)
		room.teardownPeerLocked(p, false)
		room.evictIfIdleLocked()
		return
	}

	if reason := c.checkProofLocked(room, p, proof); reason != "" {
		c.log.Warn("peer proof refused", "room", room.name, "peer", p.id.Short(), "reason", reason)
		c.sendFrameLocked(room, p, ch, protocol.ChannelProof, protocol.ProofPayload{
			Rejected: true,
			Reason:   reason,
		})
		room.emitRejectedLocked(p.id, reason)
		room.teardownPeerLocked(p, false)
		room.evictIfIdleLocked()
		return
	}

	p.sentChallenge = ""
	p.verified = true
	p.stopReconnectLocked()
	c.log.Info("peer verified", "room", room.name, "peer", p.id.Short())
	if p.connectedLocked() {
		room.emitChannelOpenedLocked(p.id)
	}

	probe := uuid.NewString()
	p.pendingCheck = probe
	c.sendFrameLocked(room, p, ch, protocol.ChannelCheck, protocol.CheckPayload{
		Room:  room.name,
		Value: probe,
	})
}

// checkProofLocked validates a peer's identity proof. An empty return means
// the proof is good; anything else is the reason the peer will hear.
func (c *Connector) checkProofLocked(room *Room, p *Peer, proof protocol.ProofPayload) string {
	if p.sentChallenge == "" || proof.Data != p.sentChallenge {
		return "challenge mismatch"
	}
	claimed := identity.ID(proof.PublicKey)
	if claimed != p.id {
		return "unexpected identity"
	}
	if !room.allowedLocked(claimed) {
		return "not a member of this room"
	}
	if !proof.Verify() {
		return "bad signature"
	}
	return ""
}

// handleCheck answers liveness probes. Our own probe value coming back
// clears the pending check; anything else is echoed for the peer to match.
func (c *Connector) handleCheck(room *Room, p *Peer, ch rtc.Channel, frame protocol.Frame) {
	var check protocol.CheckPayload
	if err := frame.DecodePayload(&check); err != nil {
		c.log.Warn("bad check frame", "room", room.name, "peer", p.id.Short(), "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if room.closed || p.channel != ch {
		return
	}
	if p.pendingCheck != "" && check.Value == p.pendingCheck {
		p.pendingCheck = ""
		c.log.Debug("channel liveness confirmed", "room", room.name, "peer", p.id.Short())
		return
	}
	c.sendFrameLocked(room, p, ch, protocol.ChannelCheck, check)
}

func (c *Connector) handleChat(room *Room, p *Peer, frame protocol.Frame) {
	var chat protocol.ChatPayload
	if err := frame.DecodePayload(&chat); err != nil {
		c.log.Warn("bad message frame", "room", room.name, "peer", p.id.Short(), "error", err)
		return
	}

	c.mu.Lock()
	if room.closed {
		c.mu.Unlock()
		return
	}
	if !p.verified {
		c.mu.Unlock()
		c.log.Warn("message from unverified peer dropped", "room", room.name, "peer", p.id.Short())
		return
	}
	now := time.Now()
	wasUnread := room.unreadLocked()
	room.lastIncoming = now
	room.emitMessageLocked(ChatMessage{
		From:      p.id,
		Timestamp: time.UnixMilli(chat.Timestamp),
		Text:      chat.Text,
	})
	if !wasUnread {
		room.emitUnreadLocked(true)
	}
	name := room.name
	c.mu.Unlock()

	c.emit(func() {
		if err := c.st.SetLastIncoming(name, now); err != nil {
			c.log.Warn("persisting last incoming failed", "room", name, "error", err)
		}
	})
}

func (c *Connector) sendFrameLocked(room *Room, p *Peer, ch rtc.Channel, t string, payload any) {
	frame, err := protocol.NewFrame(t, payload)
	if err != nil {
		c.log.Error("building channel frame failed", "type", t, "error", err)
		return
	}
	data, err := frame.Marshal()
	if err != nil {
		c.log.Error("building channel frame failed", "type", t, "error", err)
		return
	}
	if err := ch.Send(data); err != nil {
		c.log.Warn("channel send failed", "room", room.name, "peer", p.id.Short(), "type", t, "error", err)
	}
}
