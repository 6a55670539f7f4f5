package signaling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peerline-net/peerline/internal/protocol"
)

// statusAccept matches an ONLINE_STATUS reply for the given peer.
func statusAccept(peer string) func(protocol.Message) (string, bool) {
	return func(m protocol.Message) (string, bool) {
		if m.Type == protocol.TypeOnlineStatus && m.PeerID == peer {
			return m.Status, true
		}
		return "", false
	}
}

func TestRequest_ResolvesOnMatch(t *testing.T) {
	tracker := NewTracker(time.Second)

	done := make(chan struct{})
	var status string
	var err error
	go func() {
		defer close(done)
		status, err = Request(context.Background(), tracker, func() {}, statusAccept("aa"))
	}()

	// Wait for the matcher to register, then dispatch a non-matching and a
	// matching message.
	waitPending(t, tracker, 1)
	if tracker.Dispatch(protocol.OnlineStatus("bb", "busy")) {
		t.Error("reply for another peer was claimed")
	}
	if !tracker.Dispatch(protocol.OnlineStatus("aa", "online")) {
		t.Error("matching reply was not claimed")
	}

	<-done
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if status != "online" {
		t.Errorf("status = %q, want online", status)
	}
	if n := tracker.Pending(); n != 0 {
		t.Errorf("pending = %d after resolve, want 0", n)
	}
}

func TestRequest_TimeoutDeregisters(t *testing.T) {
	tracker := NewTracker(20 * time.Millisecond)

	sent := false
	_, err := Request(context.Background(), tracker, func() { sent = true }, statusAccept("aa"))
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}
	if !sent {
		t.Error("send was never invoked")
	}
	if n := tracker.Pending(); n != 0 {
		t.Errorf("pending = %d after timeout, want 0", n)
	}

	// A reply arriving after the timeout finds no matcher.
	if tracker.Dispatch(protocol.OnlineStatus("aa", "online")) {
		t.Error("late reply was claimed by a timed-out request")
	}
}

func TestRequest_ContextCancelDeregisters(t *testing.T) {
	tracker := NewTracker(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := Request(ctx, tracker, func() {}, statusAccept("aa"))
		done <- err
	}()

	waitPending(t, tracker, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return after cancel")
	}
	if n := tracker.Pending(); n != 0 {
		t.Errorf("pending = %d after cancel, want 0", n)
	}
}

func TestDispatch_RegistrationOrder(t *testing.T) {
	tracker := NewTracker(time.Second)

	results := make(chan int, 2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			_, err := Request(context.Background(), tracker, func() {}, statusAccept("aa"))
			if err == nil {
				results <- i
			}
		}()
		waitPending(t, tracker, i)
	}

	// One matching reply resolves only the first-registered request.
	if !tracker.Dispatch(protocol.OnlineStatus("aa", "online")) {
		t.Fatal("reply was not claimed")
	}
	select {
	case got := <-results:
		if got != 1 {
			t.Errorf("request %d resolved first, want 1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no request resolved")
	}
	if n := tracker.Pending(); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func waitPending(t *testing.T, tracker *Tracker, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tracker.Pending() != want {
		if time.Now().After(deadline) {
			t.Fatalf("pending never reached %d", want)
		}
		time.Sleep(time.Millisecond)
	}
}
