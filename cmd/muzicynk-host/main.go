// ABOUTME: Entry point for the muzicynk hosting endpoint
// ABOUTME: Creates a room and streams an audio file into it
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/broadcast"
	"github.com/priyaanshu26/muzicynk/internal/client"
	"github.com/priyaanshu26/muzicynk/internal/discovery"
	"github.com/priyaanshu26/muzicynk/internal/version"
)

var (
	serverAddr = flag.String("server", "", "Relay address host:port (default: discover via mDNS)")
	roomCode   = flag.String("room", "", "Room code to create (required)")
	audioFile  = flag.String("audio", "", "Audio file to stream (WAV, MP3, FLAC). Empty plays a test tone")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}
	if *roomCode == "" {
		fmt.Fprintln(os.Stderr, "a -room code is required")
		flag.Usage()
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	addr := *serverAddr
	if addr == "" {
		addr, err = discoverRelay(&logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("no relay found")
		}
	}

	sup := client.New(client.Config{ServerAddr: addr, Logger: &logger})
	if err := sup.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("connect failed")
	}
	defer sup.Close()

	if err := sup.CreateRoom(*roomCode); err != nil {
		logger.Fatal().Err(err).Msg("room creation failed")
	}
	logger.Info().Str("room", *roomCode).Msg("room created")

	src, err := broadcast.Open(*audioFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("audio source failed")
	}

	engine := broadcast.NewEngine(sup, src, &logger)
	if err := engine.Start(); err != nil {
		logger.Fatal().Err(err).Msg("broadcast failed to start")
	}
	sup.OnRelease(engine.Stop)

	logger.Info().Str("title", src.Title()).Msg("streaming, Ctrl-C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return

		case count := <-sup.Counts:
			logger.Info().Int("listeners", count).Msg("room count changed")

		case id := <-sup.MemberJoined:
			logger.Info().Str("id", id).Msg("listener joined")

		case id := <-sup.MemberLeft:
			logger.Info().Str("id", id).Msg("listener left")

		case msg := <-sup.Errors:
			logger.Error().Str("reason", msg).Msg("relay reported an error")
			return
		}
	}
}

// discoverRelay browses mDNS and returns the first relay seen.
func discoverRelay(logger *zerolog.Logger) (string, error) {
	mgr := discovery.NewManager(discovery.Config{ServiceName: "muzicynk-host", Logger: logger})
	defer mgr.Stop()

	if err := mgr.Browse(); err != nil {
		return "", err
	}

	select {
	case info := <-mgr.Servers():
		return fmt.Sprintf("%s:%d", info.Host, info.Port), nil
	case <-time.After(5 * time.Second):
		return "", fmt.Errorf("mDNS browse timed out; pass -server host:port")
	}
}
