package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/peerline-net/peerline/internal/version"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "peerline-relay",
	Short: "Rendezvous and signaling server for peerline clients",
	Long: `The relay verifies client identities, tracks presence, and forwards WebRTC
negotiation messages between room members. It never carries chat traffic;
clients talk to each other directly once their data channel is up.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
