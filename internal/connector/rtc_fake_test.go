package connector

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/peerline-net/peerline/internal/rtc"
)

// fakeFabric is an in-memory rtc.API. Descriptions name the connection that
// produced them, so feeding one side's description to the other links the
// pair; once both ends hold local and remote descriptions the fabric opens a
// channel pair between them, standing in for a completed ICE handshake.
type fakeFabric struct {
	mu      sync.Mutex
	nextID  int
	conns   map[string]*fakeConn
	created []*fakeConn

	// stall suppresses channel opening, leaving negotiation hanging after
	// the description exchange.
	stall bool
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{conns: make(map[string]*fakeConn)}
}

func (f *fakeFabric) NewConnection(cfg rtc.Config) (rtc.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := &fakeConn{fabric: f, id: fmt.Sprintf("conn-%d", f.nextID)}
	f.conns[c.id] = c
	f.created = append(f.created, c)
	return c, nil
}

func (f *fakeFabric) setStall(v bool) {
	f.mu.Lock()
	f.stall = v
	f.mu.Unlock()
}

func (f *fakeFabric) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFabric) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

// disconnect fires an ICE disconnection on one side only.
func (f *fakeFabric) disconnect(c *fakeConn) {
	f.mu.Lock()
	fn := c.onState
	f.mu.Unlock()
	if fn != nil {
		fn(rtc.StateDisconnected)
	}
}

// fakeConn state is guarded by the fabric lock. Callbacks always fire off
// goroutines that hold no locks.
type fakeConn struct {
	fabric *fakeFabric
	id     string

	localSet   bool
	remoteID   string
	channel    *fakeChannel
	candidates []rtc.Candidate
	closed     bool
	opened     bool

	onCandidate func(rtc.Candidate)
	onState     func(rtc.State)
	onChannel   func(rtc.Channel)
}

func (c *fakeConn) CreateDataChannel(label string) (rtc.Channel, error) {
	f := c.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	ch := newFakeChannel(f, label)
	c.channel = ch
	return ch, nil
}

func (c *fakeConn) CreateOffer() (rtc.Description, error) {
	return rtc.Description{Type: "offer", SDP: "fab:" + c.id}, nil
}

func (c *fakeConn) CreateAnswer() (rtc.Description, error) {
	return rtc.Description{Type: "answer", SDP: "fab:" + c.id}, nil
}

func (c *fakeConn) SetLocalDescription(d rtc.Description) error {
	f := c.fabric
	f.mu.Lock()
	if c.closed {
		f.mu.Unlock()
		return errors.New("connection closed")
	}
	c.localSet = true
	emit := c.onCandidate
	f.tryOpenLocked(c)
	f.mu.Unlock()

	if emit != nil {
		mid := "0"
		var index uint16
		go emit(rtc.Candidate{
			Candidate:     "candidate:1 1 udp 2113937151 192.0.2.7 50000 typ host",
			SDPMid:        &mid,
			SDPMLineIndex: &index,
		})
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(d rtc.Description) error {
	f := c.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	id, ok := strings.CutPrefix(d.SDP, "fab:")
	if !ok {
		return fmt.Errorf("unknown sdp %q", d.SDP)
	}
	c.remoteID = id
	f.tryOpenLocked(c)
	return nil
}

func (c *fakeConn) AddCandidate(cd rtc.Candidate) error {
	f := c.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.candidates = append(c.candidates, cd)
	return nil
}

func (c *fakeConn) OnCandidate(fn func(rtc.Candidate)) {
	c.fabric.mu.Lock()
	c.onCandidate = fn
	c.fabric.mu.Unlock()
}

func (c *fakeConn) OnStateChange(fn func(rtc.State)) {
	c.fabric.mu.Lock()
	c.onState = fn
	c.fabric.mu.Unlock()
}

func (c *fakeConn) OnDataChannel(fn func(rtc.Channel)) {
	c.fabric.mu.Lock()
	c.onChannel = fn
	c.fabric.mu.Unlock()
}

func (c *fakeConn) Close() error {
	f := c.fabric
	f.mu.Lock()
	if c.closed {
		f.mu.Unlock()
		return nil
	}
	c.closed = true
	ch := c.channel
	f.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	return nil
}

// tryOpenLocked pairs two linked connections once both hold local and remote
// descriptions. The side that created a channel is the offerer; the other
// side receives a mirror of it.
func (f *fakeFabric) tryOpenLocked(c *fakeConn) {
	if f.stall || c.opened || c.closed || c.remoteID == "" || !c.localSet {
		return
	}
	other := f.conns[c.remoteID]
	if other == nil || other.opened || other.closed {
		return
	}
	if !other.localSet || other.remoteID != c.id {
		return
	}

	var off, ans *fakeConn
	switch {
	case c.channel != nil && other.channel == nil:
		off, ans = c, other
	case other.channel != nil && c.channel == nil:
		off, ans = other, c
	default:
		return
	}

	mirror := newFakeChannel(f, off.channel.label)
	ans.channel = mirror
	off.channel.peer = mirror
	mirror.peer = off.channel
	c.opened = true
	other.opened = true

	offCh, ansCh := off.channel, mirror
	channelCB := ans.onChannel
	offState, ansState := off.onState, ans.onState

	go func() {
		if channelCB != nil {
			channelCB(ansCh)
		}
		if offState != nil {
			offState(rtc.StateConnected)
		}
		if ansState != nil {
			ansState(rtc.StateConnected)
		}
		offCh.open()
		ansCh.open()
	}()
}

type fakeChannel struct {
	fabric *fakeFabric
	label  string
	peer   *fakeChannel
	inbox  chan []byte
	done   chan struct{}

	onOpen    func()
	onMessage func([]byte)
	onClose   func()

	opened        bool
	openDelivered bool
	closed        bool

	ready     chan struct{}
	readyOnce sync.Once
	pumpOnce  sync.Once
}

func newFakeChannel(f *fakeFabric, label string) *fakeChannel {
	return &fakeChannel{
		fabric: f,
		label:  label,
		inbox:  make(chan []byte, 64),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (ch *fakeChannel) Label() string { return ch.label }

func (ch *fakeChannel) Send(data []byte) error {
	f := ch.fabric
	f.mu.Lock()
	peer := ch.peer
	closed := ch.closed
	f.mu.Unlock()
	if closed || peer == nil {
		return errors.New("channel closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case peer.inbox <- buf:
		return nil
	default:
		return errors.New("peer inbox full")
	}
}

func (ch *fakeChannel) OnOpen(fn func()) {
	f := ch.fabric
	f.mu.Lock()
	ch.onOpen = fn
	fire := ch.opened && !ch.openDelivered && fn != nil
	if fire {
		ch.openDelivered = true
	}
	f.mu.Unlock()
	if fire {
		go fn()
	}
}

func (ch *fakeChannel) OnMessage(fn func([]byte)) {
	f := ch.fabric
	f.mu.Lock()
	ch.onMessage = fn
	f.mu.Unlock()
	if fn != nil {
		ch.readyOnce.Do(func() { close(ch.ready) })
	}
}

func (ch *fakeChannel) OnClose(fn func()) {
	f := ch.fabric
	f.mu.Lock()
	ch.onClose = fn
	f.mu.Unlock()
}

// open marks the channel live, fires the open callback, and starts message
// delivery.
func (ch *fakeChannel) open() {
	f := ch.fabric
	f.mu.Lock()
	if ch.closed || ch.opened {
		f.mu.Unlock()
		return
	}
	ch.opened = true
	fn := ch.onOpen
	fire := fn != nil && !ch.openDelivered
	if fire {
		ch.openDelivered = true
	}
	f.mu.Unlock()

	if fire {
		fn()
	}
	ch.pumpOnce.Do(func() { go ch.pump() })
}

// pump delivers inbound data once a message handler exists, preserving send
// order.
func (ch *fakeChannel) pump() {
	select {
	case <-ch.ready:
	case <-ch.done:
		return
	}
	for {
		select {
		case data := <-ch.inbox:
			ch.fabric.mu.Lock()
			fn := ch.onMessage
			ch.fabric.mu.Unlock()
			if fn != nil {
				fn(data)
			}
		case <-ch.done:
			return
		}
	}
}

// Close drops both ends of the pair, as tearing down an SCTP association
// does. The closed flag flips under the fabric lock before any callback
// fires, so the propagated peer.Close returns immediately instead of
// re-entering the pair's close cycle.
func (ch *fakeChannel) Close() error {
	f := ch.fabric
	f.mu.Lock()
	if ch.closed {
		f.mu.Unlock()
		return nil
	}
	ch.closed = true
	peer := ch.peer
	fn := ch.onClose
	f.mu.Unlock()

	close(ch.done)
	if fn != nil {
		fn()
	}
	if peer != nil {
		peer.Close()
	}
	return nil
}
