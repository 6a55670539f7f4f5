package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/ui"
)

var flagForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate your Ed25519 identity",
	Long: `Generate the Ed25519 key pair that identifies this device. The public key
is what you share with peers; the derived account number is a short handle
for it. The key file never leaves this machine.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return generateIdentity()
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing identity")
	rootCmd.AddCommand(keygenCmd)
}

func generateIdentity() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.KeyFile); err == nil && !flagForce {
		return fmt.Errorf("identity already exists at %s, pass --force to replace it", cfg.KeyFile)
	}

	keys, err := identity.Generate()
	if err != nil {
		return err
	}
	if err := keys.Save(cfg.KeyFile); err != nil {
		return err
	}

	fmt.Println(ui.IdentityView(keys.Account(), string(keys.ID()), cfg.KeyFile, time.Now()))
	fmt.Println()
	ui.PrintInfo("Share the public key with peers so they can add you as a contact.")
	return nil
}
