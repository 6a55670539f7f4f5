// Package config resolves client configuration. Values come from CLI flags,
// then environment variables, then defaults, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"

	"github.com/peerline-net/peerline/internal/rtc"
)

// Default configuration values.
const (
	DefaultRelay = "wss://relay.peerline.net/"
	DefaultSTUN  = "stun:stun.l.google.com:19302"
)

const appDir = "peerline"

// Config holds everything the client binary needs to run.
type Config struct {
	// RelayURL is the websocket endpoint of the rendezvous server.
	RelayURL string

	// ICE servers for WebRTC.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// KeyFile stores the Ed25519 identity.
	KeyFile string

	// StorePath is the contacts and room activity database.
	StorePath string
}

// Options carries CLI flag overrides into Load.
type Options struct {
	Relay      string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	KeyFile    string
	StorePath  string
}

// Load resolves configuration with the following priority:
// 1. CLI flags (passed via Options)
// 2. Environment variables
// 3. Defaults, with identity and store paths under the XDG base directories
func Load(opts Options) (*Config, error) {
	relay := pick(opts.Relay, "PEERLINE_RELAY", DefaultRelay)
	if !strings.HasPrefix(relay, "ws://") && !strings.HasPrefix(relay, "wss://") {
		return nil, fmt.Errorf("relay URL %q must use the ws or wss scheme", relay)
	}

	keyFile := pick(opts.KeyFile, "PEERLINE_KEY_FILE", "")
	if keyFile == "" {
		p, err := xdg.ConfigFile(filepath.Join(appDir, "identity.key"))
		if err != nil {
			return nil, fmt.Errorf("resolving identity path: %w", err)
		}
		keyFile = p
	}

	storePath := pick(opts.StorePath, "PEERLINE_STORE", "")
	if storePath == "" {
		p, err := xdg.DataFile(filepath.Join(appDir, "peerline.db"))
		if err != nil {
			return nil, fmt.Errorf("resolving store path: %w", err)
		}
		storePath = p
	}

	return &Config{
		RelayURL:   relay,
		STUNServer: pick(opts.STUNServer, "PEERLINE_STUN", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "PEERLINE_TURN", ""),
		TURNUser:   pick(opts.TURNUser, "PEERLINE_TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "PEERLINE_TURN_PASSWORD", ""),
		KeyFile:    keyFile,
		StorePath:  storePath,
	}, nil
}

func pick(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// ICE assembles the WebRTC server list from the configured STUN and TURN
// servers.
func (c *Config) ICE() rtc.Config {
	servers := []rtc.ICEServer{{URLs: []string{c.STUNServer}}}
	if c.TURNServer != "" {
		servers = append(servers, rtc.ICEServer{
			URLs:       []string{c.TURNServer},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return rtc.Config{ICEServers: servers}
}
