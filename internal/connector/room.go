package connector

import (
	"sort"
	"time"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
	"github.com/peerline-net/peerline/internal/rtc"
)

// EntryState is the room's relay membership state.
type EntryState int

const (
	// EntryIdle means the room is not joined on the relay.
	EntryIdle EntryState = iota
	// EntryEntering means a join request is in flight.
	EntryEntering
	// EntryEntered means the relay has welcomed us into the room.
	EntryEntered
)

func (s EntryState) String() string {
	switch s {
	case EntryEntering:
		return "entering"
	case EntryEntered:
		return "entered"
	}
	return "idle"
}

// Room is one named rendezvous on the relay and the peers negotiated inside
// it. Rooms are created through the connector and shared by reference;
// mutable state is guarded by the connector lock.
type Room struct {
	c    *Connector
	name string

	// members is the allow-list for identity proofs. Empty means any
	// identity may join, which only group rooms use.
	members map[identity.ID]struct{}
	peers   map[identity.ID]*Peer

	entryState EntryState
	entryTimer *time.Timer

	// entryAttempt distinguishes join attempts, so a queued join send from
	// an attempt that timed out cannot fire for a later one.
	entryAttempt int

	callPoll *callPoll

	lastSeen     time.Time
	lastIncoming time.Time

	// sawChannel gates eviction: a room is only garbage once it has carried
	// at least one channel and carries none anymore.
	sawChannel bool
	closed     bool

	observers map[int]Observer
	nextObs   int
}

type callPoll struct {
	target   identity.ID
	attempts int
	timer    *time.Timer
}

func newRoom(c *Connector, name string, members []identity.ID) *Room {
	r := &Room{
		c:         c,
		name:      name,
		members:   make(map[identity.ID]struct{}, len(members)),
		peers:     make(map[identity.ID]*Peer),
		observers: make(map[int]Observer),
	}
	for _, m := range members {
		r.members[m] = struct{}{}
	}
	if activity, err := c.st.RoomActivity(name); err == nil {
		r.lastSeen = activity.LastSeen
		r.lastIncoming = activity.LastIncoming
	}
	return r
}

// Name returns the room's relay name.
func (r *Room) Name() string { return r.name }

// Members returns the allow-list, sorted.
func (r *Room) Members() []identity.ID {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	members := make([]identity.ID, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// State returns the room's relay membership state.
func (r *Room) State() EntryState {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.entryState
}

// Peer returns the peer with the given identity, or nil.
func (r *Room) Peer(id identity.ID) *Peer {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.peers[id]
}

// Peers returns the room's peers sorted by identity.
func (r *Room) Peers() []*Peer {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].id < peers[j].id })
	return peers
}

// Unread reports whether a message arrived after the room was last viewed.
func (r *Room) Unread() bool {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.unreadLocked()
}

func (r *Room) unreadLocked() bool {
	return r.lastIncoming.After(r.lastSeen)
}

// Subscribe registers an observer and returns its cancel function.
func (r *Room) Subscribe(o Observer) (cancel func()) {
	c := r.c
	c.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = o
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(r.observers, id)
		c.mu.Unlock()
	}
}

// Send delivers an application message to every connected peer in the room.
func (r *Room) Send(text string) error {
	frame, err := protocol.NewFrame(protocol.ChannelMessage, protocol.ChatPayload{
		Timestamp: time.Now().UnixMilli(),
		Text:      text,
	})
	if err != nil {
		return err
	}
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	return r.Broadcast(data)
}

// Broadcast writes an opaque payload to every channel in the room that is
// open and identity-verified. Peers still negotiating or unverified are
// skipped. The payload must be a marshaled protocol frame for the far side
// to accept it.
func (r *Room) Broadcast(data []byte) error {
	c := r.c
	c.mu.Lock()
	if r.closed {
		c.mu.Unlock()
		return ErrRoomClosed
	}
	channels := make([]rtc.Channel, 0, len(r.peers))
	for _, p := range r.peers {
		if p.connectedLocked() {
			channels = append(channels, p.channel)
		}
	}
	c.mu.Unlock()

	if len(channels) == 0 {
		return ErrNoConnectedPeers
	}
	var firstErr error
	for _, ch := range channels {
		if err := ch.Send(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MarkRead records that the user viewed the room, clearing the unread flag.
func (r *Room) MarkRead() {
	c := r.c
	now := time.Now()

	c.mu.Lock()
	if r.closed {
		c.mu.Unlock()
		return
	}
	wasUnread := r.unreadLocked()
	r.lastSeen = now
	if wasUnread {
		r.emitUnreadLocked(false)
	}
	c.mu.Unlock()

	if err := c.st.SetLastSeen(r.name, now); err != nil {
		c.log.Warn("persisting last seen failed", "room", r.name, "error", err)
	}
}

// Close leaves the room: every peer is torn down and the room is removed
// from the registry. The object is unusable afterwards.
func (r *Room) Close() {
	c := r.c
	c.mu.Lock()
	r.closeLocked()
	c.mu.Unlock()
}

func (r *Room) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	r.stopEntryTimerLocked()
	r.stopCallPollLocked()
	for _, p := range r.peers {
		r.teardownPeerLocked(p, true)
	}
	r.c.registry.remove(r.name, r)
	r.c.log.Info("room closed", "room", r.name)
}

// evictIfIdleLocked destroys the room once its last channel has gone and no
// negotiation is in flight. Rooms never evict mid-entry or before they
// carried a channel at all.
func (r *Room) evictIfIdleLocked() {
	if r.closed || !r.sawChannel || r.entryState == EntryEntering {
		return
	}
	for _, p := range r.peers {
		if p.conn != nil || p.channel != nil {
			return
		}
	}
	r.closeLocked()
}

func (r *Room) ensurePeerLocked(id identity.ID) *Peer {
	if p, ok := r.peers[id]; ok {
		return p
	}
	p := newPeer(r, id)
	r.peers[id] = p
	return p
}

// allowedLocked checks the membership allow-list.
func (r *Room) allowedLocked(id identity.ID) bool {
	if len(r.members) == 0 {
		return true
	}
	_, ok := r.members[id]
	return ok
}

// teardownPeerLocked drops a peer's connection state. Close calls are
// detached so implementation callbacks can never re-enter under the lock.
func (r *Room) teardownPeerLocked(p *Peer, announce bool) {
	wasConnected := p.connectedLocked()
	p.stopReconnectLocked()
	if p.channel != nil {
		ch := p.channel
		p.channel = nil
		go ch.Close()
	}
	if p.conn != nil {
		conn := p.conn
		p.conn = nil
		go conn.Close()
	}
	p.channelOpen = false
	p.verified = false
	p.role = RoleNone
	p.sentChallenge = ""
	p.pendingCheck = ""
	if announce && wasConnected {
		r.emitChannelClosedLocked(p.id)
	}
}

// Entry timer: a join attempt the relay never confirms reverts the room to
// idle, whether the join request got out or is still waiting on approval.

func (r *Room) armEntryTimerLocked() {
	r.stopEntryTimerLocked()
	r.entryTimer = time.AfterFunc(r.c.timing.EntryTimeout, r.entryTimedOut)
}

func (r *Room) stopEntryTimerLocked() {
	if r.entryTimer != nil {
		r.entryTimer.Stop()
		r.entryTimer = nil
	}
}

func (r *Room) entryTimedOut() {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.closed || r.entryState != EntryEntering {
		return
	}
	r.entryState = EntryIdle
	r.entryTimer = nil
	c.log.Warn("room entry timed out", "room", r.name)
	r.emitFailureLocked("", ErrEntryTimeout)
}

// Call poller: after an outgoing call, check a few times whether the callee
// actually connected and report failure if it never does.

func (r *Room) armCallPollLocked(target identity.ID) {
	r.stopCallPollLocked()
	cp := &callPoll{target: target}
	r.callPoll = cp
	r.scheduleCallPollLocked(cp)
}

func (r *Room) scheduleCallPollLocked(cp *callPoll) {
	cp.timer = time.AfterFunc(r.c.timing.CallPollInterval, func() { r.callPollTick(cp) })
}

func (r *Room) stopCallPollLocked() {
	if r.callPoll != nil {
		if r.callPoll.timer != nil {
			r.callPoll.timer.Stop()
		}
		r.callPoll = nil
	}
}

func (r *Room) callPollTick(cp *callPoll) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.closed || r.callPoll != cp {
		return
	}
	if p := r.peers[cp.target]; p != nil && p.connectedLocked() {
		r.callPoll = nil
		c.log.Debug("call answered", "room", r.name, "peer", cp.target.Short())
		return
	}
	cp.attempts++
	if cp.attempts >= c.timing.CallPollAttempts {
		r.callPoll = nil
		c.log.Warn("call unanswered", "room", r.name, "peer", cp.target.Short())
		r.emitFailureLocked(cp.target, newPeerError(r.name, cp.target, "calling", ErrCallUnanswered))
		return
	}
	r.scheduleCallPollLocked(cp)
}

// Observer notification. Events are queued under the lock and fired on the
// connector's dispatch goroutine in subscription order.

func (r *Room) eventLocked(fire func(Observer)) {
	if len(r.observers) == 0 {
		return
	}
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	snapshot := make([]Observer, len(ids))
	for i, id := range ids {
		snapshot[i] = r.observers[id]
	}
	r.c.emit(func() {
		for _, o := range snapshot {
			fire(o)
		}
	})
}

func (r *Room) emitChannelOpenedLocked(peer identity.ID) {
	r.eventLocked(func(o Observer) {
		if o.ChannelOpened != nil {
			o.ChannelOpened(peer)
		}
	})
}

func (r *Room) emitChannelClosedLocked(peer identity.ID) {
	r.eventLocked(func(o Observer) {
		if o.ChannelClosed != nil {
			o.ChannelClosed(peer)
		}
	})
}

func (r *Room) emitFailureLocked(peer identity.ID, err error) {
	r.eventLocked(func(o Observer) {
		if o.Failure != nil {
			o.Failure(peer, err)
		}
	})
}

func (r *Room) emitRejectedLocked(peer identity.ID, reason string) {
	r.eventLocked(func(o Observer) {
		if o.Rejected != nil {
			o.Rejected(peer, reason)
		}
	})
}

func (r *Room) emitMessageLocked(msg ChatMessage) {
	r.eventLocked(func(o Observer) {
		if o.Message != nil {
			o.Message(msg)
		}
	})
}

func (r *Room) emitUnreadLocked(unread bool) {
	r.eventLocked(func(o Observer) {
		if o.UnreadChanged != nil {
			o.UnreadChanged(unread)
		}
	})
}
