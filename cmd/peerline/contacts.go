package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/store"
	"github.com/peerline-net/peerline/internal/ui"
)

var contactsCmd = &cobra.Command{
	Use:     "contacts",
	Aliases: []string{"c"},
	Short:   "Manage known peers",
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <name> <public-key>",
	Short: "Add or rename a peer by its hex public key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addContact(args[0], args[1])
	},
}

var contactsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List known peers",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listContacts()
	},
}

var contactsRemoveCmd = &cobra.Command{
	Use:     "remove <name-or-account>",
	Aliases: []string{"rm"},
	Short:   "Forget a peer",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeContact(args[0])
	},
}

func init() {
	contactsCmd.AddCommand(contactsAddCmd, contactsListCmd, contactsRemoveCmd)
	rootCmd.AddCommand(contactsCmd)
}

func openStore() (*store.SQLite, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.StorePath)
}

func addContact(name, key string) error {
	id := identity.ID(key)
	if !id.Valid() {
		return fmt.Errorf("%q is not a hex Ed25519 public key", key)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	err = st.UpsertContact(store.Contact{
		Account:   id.Account(),
		PublicKey: string(id),
		Name:      name,
		AddedAt:   time.Now(),
	})
	if err != nil {
		return err
	}

	ui.PrintSuccessf("%s is account %s", name, id.Account())
	return nil
}

func listContacts() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	contacts, err := st.Contacts()
	if err != nil {
		return err
	}
	ui.RenderContactTable(contacts)
	return nil
}

func removeContact(arg string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	contact, err := findContact(st, arg)
	if err != nil {
		return err
	}
	if err := st.RemoveContact(contact.Account); err != nil {
		return err
	}

	ui.PrintSuccessf("Removed %s (account %s)", displayName(contact), contact.Account)
	return nil
}
