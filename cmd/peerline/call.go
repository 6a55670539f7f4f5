package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peerline-net/peerline/internal/connector"
	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/ui"
)

var callCmd = &cobra.Command{
	Use:     "call <peer>",
	Aliases: []string{"dial"},
	Short:   "Ring a contact and chat over a direct channel",
	Long: `Ring a peer through the relay. Once the peer picks up, a WebRTC data
channel is negotiated, both sides prove their identities over it, and the
chat opens. The relay never sees a message.

Examples:
  peerline call alice
  peerline call 12345678901234567890`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callPeer(args[0])
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func callPeer(arg string) error {
	sess, err := NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	target, label, err := resolvePeer(sess.Store, arg)
	if err != nil {
		return err
	}

	sp := ui.NewDialSpinner(fmt.Sprintf("Calling %s...", label))
	sp.Start()

	room, err := sess.Connector.Call(target)
	if err != nil {
		sp.Error("Call failed")
		return err
	}

	connected := make(chan struct{}, 1)
	failed := make(chan error, 1)
	cancel := room.Subscribe(connector.Observer{
		ChannelOpened: func(peer identity.ID) {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		Failure: func(peer identity.ID, err error) {
			select {
			case failed <- err:
			default:
			}
		},
		Rejected: func(peer identity.ID, reason string) {
			select {
			case failed <- fmt.Errorf("peer refused the connection: %s", reason):
			default:
			}
		},
	})

	select {
	case <-connected:
		cancel()
		sp.Success(fmt.Sprintf("Connected to %s", label))
	case err := <-failed:
		cancel()
		room.Close()
		if errors.Is(err, connector.ErrCallUnanswered) {
			sp.Error(fmt.Sprintf("%s did not pick up", label))
			return nil
		}
		sp.Error("Call failed")
		return err
	}

	return runChat(sess, room, label)
}
