// pwnproxy - intercepting TCP proxy for the PwnAdventure 3 protocol.
//
// pwnproxy sits between the game client and the real game servers, relaying
// the master server port and every game instance port. Traffic is decoded
// into human-readable console lines as it passes, and observed events
// trigger synthesized packets (auto-loot, auto-reload) injected back into
// the client->server stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MAKLs/pwn3/internal/cli"
	"github.com/MAKLs/pwn3/internal/config"
	"github.com/MAKLs/pwn3/internal/events"
	"github.com/MAKLs/pwn3/internal/network"
	"github.com/MAKLs/pwn3/internal/protocol"
	"github.com/MAKLs/pwn3/internal/telemetry"
	"github.com/MAKLs/pwn3/internal/util"
)

const (
	AppName    = "pwnproxy"
	AppVersion = "1.0.0"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(2)
	}

	if err := util.InitLogger(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting pwnproxy")

	// A bad destination host must die here, before any port is bound.
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components: one shared bus, injection queue, and decoder serve
	// every proxied port.
	eventBus := events.NewEventBus()
	queue := protocol.NewInjectionQueue()
	decoder := protocol.NewDecoder(eventBus, queue, config.MasterPort)

	telemetry.NewConsoleSink(nil).Register(eventBus)
	stats := telemetry.NewStatsCollector()
	stats.Register(eventBus)

	// One supervisor goroutine per port: the master server plus each game
	// instance port is proxied independently and concurrently.
	var wg sync.WaitGroup
	for _, port := range config.AllPorts() {
		srv := network.NewProxyServer(cfg.ListenHost, cfg.DestinationHost, port,
			config.RecvBufferSize, decoder, queue, eventBus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.Run(ctx)
		}()
	}

	log.Info().
		Str("destination", cfg.DestinationHost).
		Uint16("master_port", config.MasterPort).
		Uints16("game_ports", config.GamePorts()).
		Msg("proxies started")

	// Interactive CLI (status table, manual injection). Runs until stdin
	// closes; not joined on shutdown because a blocked stdin read cannot be
	// interrupted.
	go cli.NewCLI(cfg, eventBus, stats, queue).Start(ctx)

	// ---------------------------------------------------------------
	// Graceful shutdown: signal or CLI quit
	// ---------------------------------------------------------------
	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, event events.Event) error {
		shutdownOnce.Do(func() { close(shutdownCh) })
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from CLI")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all proxies stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("pwnproxy stopped")
}
