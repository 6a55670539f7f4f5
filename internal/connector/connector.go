// Package connector establishes encrypted peer-to-peer channels. It drives
// the relay handshake, room entry, connection negotiation, and the mutual
// identity verification that must succeed before a peer counts as connected.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
	"github.com/peerline-net/peerline/internal/rtc"
	"github.com/peerline-net/peerline/internal/signaling"
	"github.com/peerline-net/peerline/internal/store"
)

// DefaultChannelLabel names the data channel both sides expect.
const DefaultChannelLabel = "peerline"

// Config carries the connector's wiring knobs.
type Config struct {
	RTC          rtc.Config
	Timing       Timing
	ChannelLabel string
}

// RelayLink is the connector's view of the signaling transport.
type RelayLink interface {
	Connect() error
	Send(msgs ...protocol.Message)
	Incoming() <-chan protocol.Message
	OnDisconnect(func())
	Close() error
}

var _ RelayLink = (*signaling.Transport)(nil)

// Connector owns the relay link and the room registry. One instance serves
// one local identity.
type Connector struct {
	cfg     Config
	keys    *identity.KeyPair
	link    RelayLink
	api     rtc.API
	st      store.Store
	log     *slog.Logger
	timing  Timing
	tracker *signaling.Tracker

	mu           sync.Mutex
	registry     *roomRegistry
	approved     bool
	proving      bool
	queue        []func()
	pendingCalls map[string]bool
	onCall       func(caller identity.ID, room string) bool
	status       string
	closed       bool

	evMu     sync.Mutex
	evCond   *sync.Cond
	eventq   []func()
	evClosed bool

	runDone   chan struct{}
	eventDone chan struct{}
}

// New wires a connector to the given link. The rtc API defaults to the pion
// stack, the store to an in-memory one, and the logger to slog's default.
// The connector starts consuming the link immediately.
func New(cfg Config, keys *identity.KeyPair, link RelayLink, api rtc.API, st store.Store, log *slog.Logger) *Connector {
	if api == nil {
		api = rtc.Pion{}
	}
	if st == nil {
		st = store.NewMemory()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = DefaultChannelLabel
	}
	timing := cfg.Timing.withDefaults()

	c := &Connector{
		cfg:          cfg,
		keys:         keys,
		link:         link,
		api:          api,
		st:           st,
		log:          log.With("component", "connector"),
		timing:       timing,
		tracker:      signaling.NewTracker(timing.RequestTimeout),
		registry:     newRoomRegistry(),
		pendingCalls: make(map[string]bool),
		runDone:      make(chan struct{}),
		eventDone:    make(chan struct{}),
	}
	c.evCond = sync.NewCond(&c.evMu)

	link.OnDisconnect(c.linkDown)
	go c.run()
	go c.eventLoop()
	return c
}

// ID returns the local identity.
func (c *Connector) ID() identity.ID { return c.keys.ID() }

// Account returns the local derived account identifier.
func (c *Connector) Account() string { return c.keys.Account() }

// run consumes the relay link until it closes.
func (c *Connector) run() {
	defer close(c.runDone)
	for m := range c.link.Incoming() {
		c.dispatch(m)
	}
}

// eventLoop runs queued work: observer callbacks, deferred relay sends, and
// approval-gated actions. One goroutine keeps everything ordered and outside
// the connector lock.
func (c *Connector) eventLoop() {
	defer close(c.eventDone)
	for {
		c.evMu.Lock()
		for len(c.eventq) == 0 && !c.evClosed {
			c.evCond.Wait()
		}
		if len(c.eventq) == 0 && c.evClosed {
			c.evMu.Unlock()
			return
		}
		batch := c.eventq
		c.eventq = nil
		c.evMu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

// emit queues fn for the event loop. Safe to call under the connector lock.
func (c *Connector) emit(fn func()) {
	c.evMu.Lock()
	if !c.evClosed {
		c.eventq = append(c.eventq, fn)
		c.evCond.Signal()
	}
	c.evMu.Unlock()
}

// dispatch routes one inbound relay message. Unrecognized messages are
// offered to the pending-request tracker before being dropped.
func (c *Connector) dispatch(m protocol.Message) {
	switch m.Type {
	case protocol.TypeProveIdentity:
		c.handleChallenge(m)
	case protocol.TypeApprovedIdentity:
		c.handleApproved()
	case protocol.TypeWelcome:
		c.handleWelcome(m)
	case protocol.TypeWrongRoom:
		c.handleWrongRoom(m)
	case protocol.TypeCall:
		c.handleIncomingCall(m)
	case protocol.TypeOffer:
		c.handleOffer(m)
	case protocol.TypeAnswer:
		c.handleAnswer(m)
	case protocol.TypeCandidate:
		c.handleCandidate(m)
	case protocol.TypeError:
		if !c.tracker.Dispatch(m) {
			c.log.Warn("relay error", "reason", m.Reason)
		}
	default:
		if !c.tracker.Dispatch(m) {
			c.log.Warn("unhandled relay message", "type", m.Type)
		}
	}
}

// Relay-facing identity handshake. Anything that needs an approved session
// goes through enqueueLocked; actions pile up until APPROVED_IDENTITY
// arrives and then flush in order.

func (c *Connector) handleChallenge(m protocol.Message) {
	if m.Data == "" {
		c.log.Warn("relay sent empty challenge")
		return
	}
	c.log.Debug("answering relay challenge")
	c.link.Send(protocol.ProofIdentity(c.keys.Prove(m.Data)))
}

func (c *Connector) handleApproved() {
	c.mu.Lock()
	c.approved = true
	c.proving = false
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.log.Info("relay approved identity", "account", c.keys.Account())
	for _, action := range queue {
		c.emit(action)
	}
}

// enqueueLocked runs action once the relay session is approved: immediately
// when it already is, otherwise after the handshake finishes.
func (c *Connector) enqueueLocked(action func()) {
	if c.closed {
		return
	}
	if c.approved {
		c.emit(action)
		return
	}
	c.queue = append(c.queue, action)
	c.requestApprovalLocked()
}

func (c *Connector) requestApprovalLocked() {
	if c.proving || c.approved {
		return
	}
	c.proving = true
	c.emit(func() { c.link.Send(protocol.WantProveIdentity()) })
}

// linkDown resets relay session state when the transport drops. Approval
// does not survive a reconnect and neither does room membership; peer
// channels are direct and stay up. Re-entering rooms is the caller's call.
func (c *Connector) linkDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.approved = false
	c.proving = false
	idled := 0
	for _, room := range c.registry.all() {
		if room.entryState != EntryIdle {
			room.entryState = EntryIdle
			room.stopEntryTimerLocked()
			idled++
		}
	}
	c.log.Warn("relay link lost", "idled_rooms", idled)
}

// EnterRoom joins the canonical 1:1 room shared with peer, creating it if
// needed. Entering is idempotent while a join is pending or established.
func (c *Connector) EnterRoom(peer identity.ID) (*Room, error) {
	if !peer.Valid() {
		return nil, fmt.Errorf("%w: %q", identity.ErrInvalidIdentity, peer)
	}
	if peer == c.keys.ID() {
		return nil, ErrSelfCall
	}

	name := identity.RoomID(c.keys.ID(), peer)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	room, created := c.registry.getOrCreate(c, name, []identity.ID{c.keys.ID(), peer})
	if created {
		c.log.Debug("room created", "room", name, "peer", peer.Short())
	}
	c.enterRoomLocked(room, false)
	return room, nil
}

// enterRoomLocked drives the Idle -> Entering transition. force resets an
// entered room first, which is how call acceptance re-syncs after the callee
// was already in the room once.
func (c *Connector) enterRoomLocked(room *Room, force bool) {
	if room.closed {
		return
	}
	if force {
		room.entryState = EntryIdle
		room.stopEntryTimerLocked()
	}
	if room.entryState != EntryIdle {
		return
	}
	// The timer starts at the transition, not at the send: a join stuck
	// behind an unfinished relay handshake still reverts after the timeout
	// and stays retryable.
	room.entryState = EntryEntering
	room.entryAttempt++
	room.armEntryTimerLocked()
	attempt := room.entryAttempt
	c.enqueueLocked(func() { c.sendJoin(room, attempt) })
}

// sendJoin transmits the join request. It runs on the event loop, possibly
// long after enterRoomLocked queued it; a send from an attempt that already
// timed out is dropped.
func (c *Connector) sendJoin(room *Room, attempt int) {
	c.mu.Lock()
	if c.closed || room.closed || room.entryState != EntryEntering || room.entryAttempt != attempt {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.link.Send(protocol.JoinRoom(room.name))
}

func (c *Connector) handleWrongRoom(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.registry.lookup(m.Room)
	if room == nil || room.closed {
		c.log.Warn("room rejected", "room", m.Room, "reason", m.Reason)
		return
	}
	room.entryState = EntryIdle
	room.stopEntryTimerLocked()
	c.log.Warn("room rejected", "room", m.Room, "reason", m.Reason)
	room.emitFailureLocked("", fmt.Errorf("relay rejected room %s: %s", m.Room, m.Reason))
}

// Call rings peer: enter the shared room, send the call invitation, and poll
// briefly for the callee to actually connect.
func (c *Connector) Call(peer identity.ID) (*Room, error) {
	room, err := c.EnterRoom(peer)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if room.closed {
		return nil, ErrRoomClosed
	}
	c.enqueueLocked(func() { c.link.Send(protocol.Call(peer, room.name)) })
	room.armCallPollLocked(peer)
	c.log.Info("calling peer", "room", room.name, "peer", peer.Short())
	return room, nil
}

// OnIncomingCall registers the confirmation callback for inbound calls. The
// callback may block on user input; it runs on its own goroutine. Without a
// callback every call is declined.
func (c *Connector) OnIncomingCall(fn func(caller identity.ID, room string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCall = fn
}

// handleIncomingCall asks the application whether to accept. Only acceptance
// creates the room and force-enters it; a declined or unhandled call changes
// nothing.
func (c *Connector) handleIncomingCall(m protocol.Message) {
	caller := identity.ID(m.Caller)
	if !caller.Valid() {
		c.log.Warn("call with invalid caller identity dropped")
		return
	}
	roomName := m.Room
	if roomName == "" {
		roomName = identity.RoomID(c.keys.ID(), caller)
	}

	c.mu.Lock()
	if c.closed || c.pendingCalls[roomName] {
		c.mu.Unlock()
		return
	}
	if room := c.registry.lookup(roomName); room != nil && room.entryState != EntryIdle {
		// Already in or entering the room; the caller will find us there.
		c.mu.Unlock()
		return
	}
	cb := c.onCall
	c.pendingCalls[roomName] = true
	c.mu.Unlock()

	c.log.Info("incoming call", "room", roomName, "caller", caller.Short())
	go func() {
		accept := cb != nil && cb(caller, roomName)

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.pendingCalls, roomName)
		if c.closed || !accept {
			return
		}
		room, _ := c.registry.getOrCreate(c, roomName, []identity.ID{c.keys.ID(), caller})
		c.enterRoomLocked(room, true)
	}()
}

// SetOnlineStatus publishes presence to the relay.
func (c *Connector) SetOnlineStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.status = status
	c.enqueueLocked(func() { c.link.Send(protocol.SetOnlineStatus(status)) })
}

// OnlineStatus asks the relay for a peer's presence. It blocks until the
// reply arrives, the request times out, or ctx is canceled.
func (c *Connector) OnlineStatus(ctx context.Context, peer identity.ID) (string, error) {
	if !peer.Valid() {
		return "", fmt.Errorf("%w: %q", identity.ErrInvalidIdentity, peer)
	}

	send := func() {
		c.mu.Lock()
		if !c.closed {
			c.enqueueLocked(func() { c.link.Send(protocol.GetOnlineStatus(peer)) })
		}
		c.mu.Unlock()
	}
	return signaling.Request(ctx, c.tracker, send, func(m protocol.Message) (string, bool) {
		if m.Type == protocol.TypeOnlineStatus && m.PeerID == string(peer) {
			return m.Status, true
		}
		return "", false
	})
}

// Room returns the room registered under name, or nil.
func (c *Connector) Room(name string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.lookup(name)
}

// Rooms returns all live rooms sorted by name.
func (c *Connector) Rooms() []*Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := c.registry.all()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].name < rooms[j].name })
	return rooms
}

// IsPeerConnected reports whether peer is usable in any room.
func (c *Connector) IsPeerConnected(peer identity.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, room := range c.registry.all() {
		if p := room.peers[peer]; p != nil && p.connectedLocked() {
			return true
		}
	}
	return false
}

// Close tears down every room, closes the relay link, and stops the
// connector's goroutines. Queued events are flushed first.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, room := range c.registry.all() {
		room.closeLocked()
	}
	c.queue = nil
	c.mu.Unlock()

	err := c.link.Close()
	<-c.runDone

	c.evMu.Lock()
	c.evClosed = true
	c.evCond.Signal()
	c.evMu.Unlock()
	<-c.eventDone

	c.log.Info("connector closed")
	return err
}
