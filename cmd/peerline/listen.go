package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerline-net/peerline/internal/connector"
	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/store"
	"github.com/peerline-net/peerline/internal/ui"
)

var (
	flagAcceptUnknown bool
	flagAcceptFrom    []string
)

var listenCmd = &cobra.Command{
	Use:     "listen",
	Aliases: []string{"l"},
	Short:   "Wait for calls from your contacts",
	Long: `Stay online and pick up incoming calls. Calls from identities outside your
contact list are declined unless --accept-unknown is set; --accept-from
narrows pickup to the named contacts instead. Either way the caller still
has to prove its identity over the data channel before the chat opens.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listenForCalls()
	},
}

func init() {
	listenCmd.Flags().BoolVar(&flagAcceptUnknown, "accept-unknown", false, "accept calls from identities not in your contacts")
	listenCmd.Flags().StringSliceVar(&flagAcceptFrom, "accept-from", nil, "only accept calls from these contacts or public keys")
	rootCmd.AddCommand(listenCmd)
}

type incomingCall struct {
	caller identity.ID
	room   string
}

func listenForCalls() error {
	sess, err := NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	allow, err := acceptSet(sess.Store, flagAcceptFrom)
	if err != nil {
		return err
	}

	calls := make(chan incomingCall, 4)
	sess.Connector.OnIncomingCall(func(caller identity.ID, room string) bool {
		if allow != nil {
			if _, ok := allow[caller]; !ok {
				return false
			}
		} else if !flagAcceptUnknown {
			if _, err := sess.Store.ContactByAccount(caller.Account()); err != nil {
				return false
			}
		}
		select {
		case calls <- incomingCall{caller: caller, room: room}:
			return true
		default:
			return false
		}
	})
	sess.Connector.SetOnlineStatus("online")

	fmt.Printf("%s Listening as account %s\n", ui.IconRoom, ui.BoldStyle.Render(sess.Keys.Account()))

	for {
		sp := ui.NewWaitSpinner("Waiting for a call... (ctrl+c to quit)")
		sp.Start()
		call := <-calls

		label := peerLabel(sess.Store, call.caller)
		room := waitForRoom(sess.Connector, call.room)
		if room == nil {
			sp.Stop()
			ui.PrintWarningf("Call from %s went away", label)
			continue
		}
		sp.Success(fmt.Sprintf("%s %s is calling", ui.IconCall, label))

		if err := runChat(sess, room, label); err != nil {
			return err
		}
		fmt.Println()
	}
}

// acceptSet resolves --accept-from entries against the contact store. A nil
// set means no allow-list was given.
func acceptSet(st store.Store, entries []string) (map[identity.ID]struct{}, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	set := make(map[identity.ID]struct{}, len(entries))
	for _, entry := range entries {
		id, _, err := resolvePeer(st, entry)
		if err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, nil
}

// waitForRoom polls for the room the connector enters after a call is
// accepted.
func waitForRoom(c *connector.Connector, name string) *connector.Room {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if room := c.Room(name); room != nil {
			return room
		}
		time.Sleep(25 * time.Millisecond)
	}
	return nil
}
