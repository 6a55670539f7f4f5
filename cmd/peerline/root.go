package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/peerline-net/peerline/internal/config"
	"github.com/peerline-net/peerline/internal/ui"
	"github.com/peerline-net/peerline/internal/version"
)

var (
	flagRelay    string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagKeyFile  string
	flagStore    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "peerline",
	Short: "Direct encrypted messaging between devices using WebRTC",
	Long: `Peerline opens data channels straight between devices. The relay server is
only used to find peers and pass connection offers along; messages always
travel peer to peer. Identities are Ed25519 keys, and both ends prove control
of theirs before a channel is trusted.`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRelay, "relay", "", "relay websocket URL")
	pf.StringVar(&flagSTUN, "stun", "", "STUN server URL")
	pf.StringVar(&flagTURN, "turn", "", "TURN server URL")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.StringVar(&flagKeyFile, "key", "", "identity key file")
	pf.StringVar(&flagStore, "store", "", "local database path")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Options{
		Relay:      flagRelay,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		KeyFile:    flagKeyFile,
		StorePath:  flagStore,
	})
}
