package main

import (
	"fmt"

	"github.com/peerline-net/peerline/internal/connector"
	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/ui"
)

// runChat attaches the interactive chat to a live room and blocks until the
// user leaves. The room is closed on the way out.
func runChat(sess *Session, room *connector.Room, label string) error {
	chat := ui.NewChat(fmt.Sprintf("%s %s", ui.IconMessage, label), "you", room.Send)

	cancel := room.Subscribe(connector.Observer{
		Message: func(msg connector.ChatMessage) {
			chat.Message(peerLabel(sess.Store, msg.From), msg.Text, msg.Timestamp)
			room.MarkRead()
		},
		ChannelOpened: func(peer identity.ID) {
			chat.System(peerLabel(sess.Store, peer) + " connected")
		},
		ChannelClosed: func(peer identity.ID) {
			chat.System(peerLabel(sess.Store, peer) + " left")
			if !anyConnected(room) {
				chat.System("nobody else is here, press esc to leave")
			}
		},
		Rejected: func(peer identity.ID, reason string) {
			chat.System(fmt.Sprintf("%s refused the connection: %s", peerLabel(sess.Store, peer), reason))
		},
		Failure: func(peer identity.ID, err error) {
			chat.System("error: " + err.Error())
		},
	})
	defer cancel()
	defer room.Close()

	room.MarkRead()
	return chat.Run()
}

func anyConnected(room *connector.Room) bool {
	for _, p := range room.Peers() {
		if p.Connected() {
			return true
		}
	}
	return false
}
