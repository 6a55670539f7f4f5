package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peerline-net/peerline/internal/logging"
	"github.com/peerline-net/peerline/internal/relay"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay server",
	Args:  cobra.NoArgs,
	Run:   runServer,
}

func init() {
	runCmd.Flags().String("host", "0.0.0.0", "listen address")
	runCmd.Flags().Int("port", 8080, "listen port")
	runCmd.Flags().Bool("debug", false, "verbose logging")
	runCmd.Flags().StringSlice("allowed-origins", nil, "Origin headers accepted for upgrades (empty allows any)")

	// Environment variables override nothing but defaults: flags win.
	viper.SetEnvPrefix("peerline_relay")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("host", runCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("port", runCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("debug", runCmd.Flags().Lookup("debug"))
	_ = viper.BindPFlag("allowed-origins", runCmd.Flags().Lookup("allowed-origins"))

	rootCmd.AddCommand(runCmd)
}

func runServer(_ *cobra.Command, _ []string) {
	debug, host, port := viper.GetBool("debug"),
		viper.GetString("host"),
		viper.GetInt("port")

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := logging.Init(os.Stderr, level)

	hub := relay.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	opts := relay.ServerOptions{AllowedOrigins: viper.GetStringSlice("allowed-origins")}

	// No ReadTimeout: websocket connections stay open for hours.
	server := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           relay.Handler(hub, opts),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("relay listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
}
