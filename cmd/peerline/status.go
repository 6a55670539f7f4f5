package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/store"
	"github.com/peerline-net/peerline/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status [peer]",
	Short: "Check which contacts are reachable through the relay",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(args)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(args []string) error {
	sess, err := NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	var targets []store.Contact
	if len(args) == 1 {
		c, err := findContact(sess.Store, args[0])
		if err != nil {
			// Raw identities that are not contacts yet work too.
			id := identity.ID(args[0])
			if !id.Valid() {
				return err
			}
			c = store.Contact{Account: id.Account(), PublicKey: string(id)}
		}
		targets = append(targets, c)
	} else {
		targets, err = sess.Store.Contacts()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			ui.PrintInfo("No contacts yet. Add one with 'peerline contacts add'.")
			return nil
		}
	}

	sp := ui.NewDialSpinner("Checking presence...")
	sp.Start()

	rows := make([]ui.PeerStatusRow, 0, len(targets))
	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		status, err := sess.Connector.OnlineStatus(ctx, identity.ID(c.PublicKey))
		cancel()
		if err != nil {
			status = "unknown"
		}
		rows = append(rows, ui.PeerStatusRow{Name: c.Name, Account: c.Account, Status: status})
	}

	sp.Stop()
	ui.RenderPeerStatusTable(rows)
	return nil
}
