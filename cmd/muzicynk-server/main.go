// ABOUTME: Entry point for the muzicynk relay server
// ABOUTME: Parses CLI flags and runs the websocket relay
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/server"
	"github.com/priyaanshu26/muzicynk/internal/version"
)

var (
	port     = flag.Int("port", defaultPort(), "WebSocket relay port (default from MUZICYNK_PORT)")
	name     = flag.String("name", "", "Service friendly name (default: hostname-muzicynk)")
	noMDNS   = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVer  = flag.Bool("version", false, "Print version and exit")
)

// defaultPort reads MUZICYNK_PORT, falling back to 3001.
func defaultPort() int {
	if v := os.Getenv("MUZICYNK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return 3001
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	serviceName := *name
	if serviceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serviceName = fmt.Sprintf("%s-muzicynk", hostname)
	}

	srv := server.New(server.Config{
		Port:       *port,
		Name:       serviceName,
		EnableMDNS: !*noMDNS,
		Logger:     &logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped")
}
