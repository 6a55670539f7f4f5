package main

import (
	"log/slog"
	"os"

	"github.com/peerline-net/peerline/internal/logging"
)

func main() {
	logging.Init(os.Stderr, slog.LevelError)
	Execute()
}
