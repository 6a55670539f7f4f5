// Package relay implements the rendezvous server. Clients prove control of
// an Ed25519 identity before anything else is allowed; after that the relay
// tracks presence, validates room entry, and forwards negotiation traffic
// between room members with the sender's identity stamped on.
package relay

import (
	"context"
	"log/slog"
	"sort"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
)

// Hub owns every live session and room. A single goroutine (Run) touches
// that state, fed by the register, unregister, and inbound channels.
type Hub struct {
	log *slog.Logger

	register   chan *session
	unregister chan *session
	inbound    chan envelope

	sessions map[*session]struct{}
	byID     map[identity.ID]*session
	rooms    map[string]map[*session]struct{}
}

type envelope struct {
	s *session
	m protocol.Message
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log.With("component", "relay"),
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan envelope, 64),
		sessions:   make(map[*session]struct{}),
		byID:       make(map[identity.ID]*session),
		rooms:      make(map[string]map[*session]struct{}),
	}
}

// Run processes hub traffic until ctx is canceled. All session and room
// state is confined to this goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			h.sessions[s] = struct{}{}
			h.log.Info("session connected", "session", s.sid, "remote", s.remote)
		case s := <-h.unregister:
			h.drop(s)
		case env := <-h.inbound:
			h.handle(env.s, env.m)
		}
	}
}

func (h *Hub) drop(s *session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	for room := range s.rooms {
		members := h.rooms[room]
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
			h.log.Debug("room emptied", "room", room)
		}
	}
	if s.id != "" && h.byID[s.id] == s {
		delete(h.byID, s.id)
	}
	close(s.send)
	h.log.Info("session disconnected", "session", s.sid)
}

func (h *Hub) handle(s *session, m protocol.Message) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	switch m.Type {
	case protocol.TypePing:
		h.send(s, protocol.Pong())
	case protocol.TypeWantProveIdentity:
		h.startProof(s)
	case protocol.TypeProofIdentity:
		h.finishProof(s, m)
	case protocol.TypeRoom:
		if h.approved(s) {
			h.joinRoom(s, m)
		}
	case protocol.TypeCall:
		if h.approved(s) {
			h.forwardCall(s, m)
		}
	case protocol.TypeSetOnlineStatus:
		if h.approved(s) {
			s.status = m.Status
		}
	case protocol.TypeGetOnlineStatus:
		if h.approved(s) {
			h.reportStatus(s, m)
		}
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		if h.approved(s) {
			h.forward(s, m)
		}
	default:
		h.log.Warn("unsupported message", "session", s.sid, "type", m.Type)
	}
}

// approved gates everything behind the identity handshake.
func (h *Hub) approved(s *session) bool {
	if s.id != "" {
		return true
	}
	h.send(s, protocol.Error("identity not proven"))
	return false
}

func (h *Hub) startProof(s *session) {
	challenge, err := identity.Challenge()
	if err != nil {
		h.log.Error("generating challenge failed", "error", err)
		h.send(s, protocol.Error("internal error"))
		return
	}
	s.challenge = challenge
	h.send(s, protocol.ProveIdentity(challenge))
}

func (h *Hub) finishProof(s *session, m protocol.Message) {
	proof := m.Proof()
	challenge := s.challenge
	s.challenge = ""
	if challenge == "" || proof.Data != challenge || !proof.Verify() {
		h.log.Warn("identity proof rejected", "session", s.sid)
		h.send(s, protocol.Error("identity proof rejected"))
		return
	}

	id := identity.ID(proof.PublicKey)
	s.id = id
	if prev := h.byID[id]; prev != nil && prev != s {
		h.log.Info("identity reconnected", "session", s.sid, "account", id.Account())
	}
	h.byID[id] = s
	h.log.Info("identity approved", "session", s.sid, "account", id.Account())
	h.send(s, protocol.ApprovedIdentity())
}

// joinRoom admits s after checking that a canonical 1:1 room name actually
// names the joiner. Free-form room names admit any proven identity; the data
// channel proof exchange does the real gatekeeping there.
func (h *Hub) joinRoom(s *session, m protocol.Message) {
	name := m.Room
	if name == "" {
		h.send(s, protocol.Error("room name required"))
		return
	}
	if a, b, ok := identity.SplitRoomID(name); ok {
		account := s.id.Account()
		if account != a && account != b {
			h.log.Warn("room join refused", "session", s.sid, "room", name)
			h.send(s, protocol.WrongRoom(name, "not a member of this room"))
			return
		}
	}

	members := h.rooms[name]
	if members == nil {
		members = make(map[*session]struct{})
		h.rooms[name] = members
	}
	members[s] = struct{}{}
	s.rooms[name] = struct{}{}

	seen := make(map[identity.ID]struct{})
	present := make([]identity.ID, 0, len(members))
	for member := range members {
		if member == s || member.id == s.id {
			continue
		}
		if _, dup := seen[member.id]; dup {
			continue
		}
		seen[member.id] = struct{}{}
		present = append(present, member.id)
	}
	sort.Slice(present, func(i, j int) bool { return present[i] < present[j] })

	h.log.Info("room joined", "session", s.sid, "room", name, "present", len(present))
	h.send(s, protocol.Welcome(name, present))
}

// forwardCall rings every session of the callee; whichever one answers
// joins the room.
func (h *Hub) forwardCall(s *session, m protocol.Message) {
	target := identity.ID(m.ToPeerID)
	if !target.Valid() {
		h.send(s, protocol.Error("call target required"))
		return
	}
	room := m.Room
	if room == "" {
		room = identity.RoomID(s.id, target)
	}

	ringing := 0
	for callee := range h.sessions {
		if callee.id == target {
			h.send(callee, protocol.IncomingCall(s.id, room))
			ringing++
		}
	}
	if ringing == 0 {
		h.log.Debug("call target offline", "session", s.sid, "target", target.Short())
		h.send(s, protocol.Error("peer not online"))
		return
	}
	h.log.Info("call forwarded", "from", s.id.Short(), "to", target.Short(), "room", room, "sessions", ringing)
}

func (h *Hub) reportStatus(s *session, m protocol.Message) {
	target := identity.ID(m.PeerID)
	status := "offline"
	if sess := h.byID[target]; sess != nil {
		status = sess.status
		if status == "" {
			status = "online"
		}
	}
	h.send(s, protocol.OnlineStatus(target, status))
}

// forward relays a negotiation message to its addressee inside the room,
// replacing the frame head with metadata naming the sender.
func (h *Hub) forward(s *session, m protocol.Message) {
	room := m.Room
	if _, in := s.rooms[room]; !in {
		h.send(s, protocol.Error("not in room"))
		return
	}
	target := identity.ID(m.ToPeerID)
	var dest *session
	for member := range h.rooms[room] {
		if member != s && member.id == target {
			dest = member
			break
		}
	}
	if dest == nil {
		h.log.Debug("negotiation target absent", "room", room, "target", target.Short(), "type", m.Type)
		return
	}

	fwd := m
	fwd.ToPeerID = ""
	fwd.FromPeer = ""
	fwd.Room = ""
	h.sendMeta(dest, protocol.Meta{FromPeer: string(s.id), Room: room}, fwd)
}

func (h *Hub) send(s *session, msgs ...protocol.Message) {
	data, err := protocol.EncodeFrame(msgs...)
	if err != nil {
		h.log.Error("encoding frame failed", "error", err)
		return
	}
	s.queue(data, h.log)
}

func (h *Hub) sendMeta(s *session, meta protocol.Meta, msgs ...protocol.Message) {
	data, err := protocol.EncodeMetaFrame(meta, msgs...)
	if err != nil {
		h.log.Error("encoding frame failed", "error", err)
		return
	}
	s.queue(data, h.log)
}
