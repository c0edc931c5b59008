// ABOUTME: Entry point for the muzicynk listening endpoint
// ABOUTME: Joins a room and plays the relayed audio stream
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/audio"
	"github.com/priyaanshu26/muzicynk/internal/client"
	"github.com/priyaanshu26/muzicynk/internal/discovery"
	"github.com/priyaanshu26/muzicynk/internal/player"
	"github.com/priyaanshu26/muzicynk/internal/version"
)

var (
	serverAddr = flag.String("server", "", "Relay address host:port (default: discover via mDNS)")
	roomCode   = flag.String("room", "", "Room code to join (required)")
	volume     = flag.Int("volume", 100, "Playback volume (0-100)")
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

	output := player.NewOutput(&logger)
	if err := output.Initialize(audio.DefaultFormat()); err != nil {
		logger.Fatal().Err(err).Msg("audio output failed")
	}
	output.SetVolume(*volume)

	scheduler := player.NewScheduler(output, audio.DefaultFormat(), player.DefaultLookahead, &logger)

	sup := client.New(client.Config{ServerAddr: addr, Logger: &logger})
	sup.OnRelease(output.Close)
	sup.OnRelease(scheduler.Stop)

	if err := sup.Connect(); err != nil {
		output.Close()
		logger.Fatal().Err(err).Msg("connect failed")
	}
	defer sup.Close()

	if err := sup.JoinRoom(*roomCode); err != nil {
		logger.Fatal().Err(err).Msg("join failed")
	}
	logger.Info().Str("room", *roomCode).Msg("joined, playing")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			stats := scheduler.Stats()
			logger.Info().
				Int64("frames", stats.Received).
				Int64("resets", stats.Resets).
				Msg("playback stats")
			return

		case pcm := <-sup.Frames:
			if err := scheduler.HandleFrame(pcm); err != nil {
				logger.Warn().Err(err).Msg("dropping bad frame")
			}

		case state := <-sup.StateUpdates:
			logger.Info().
				Bool("playing", state.IsPlaying).
				Float64("position", state.Position).
				Msg("host state changed")
			output.SetMuted(!state.IsPlaying)

		case count := <-sup.Counts:
			logger.Info().Int("listeners", count).Msg("room count changed")

		case <-sup.RoomClosed:
			logger.Info().Msg("host left, room closed")
			return

		case msg := <-sup.Errors:
			logger.Error().Str("reason", msg).Msg("relay reported an error")
			return
		}
	}
}

// discoverRelay browses mDNS and returns the first relay seen.
func discoverRelay(logger *zerolog.Logger) (string, error) {
	mgr := discovery.NewManager(discovery.Config{ServiceName: "muzicynk-listen", Logger: logger})
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
