// Package cli implements the interactive command-line interface: live proxy
// status and manual packet injection into the client->server stream.
package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/MAKLs/pwn3/internal/config"
	"github.com/MAKLs/pwn3/internal/events"
	"github.com/MAKLs/pwn3/internal/protocol"
	"github.com/MAKLs/pwn3/internal/telemetry"
	"github.com/MAKLs/pwn3/internal/util"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg   *config.Config
	bus   *events.EventBus
	stats *telemetry.StatsCollector
	queue *protocol.InjectionQueue
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, bus *events.EventBus, stats *telemetry.StatsCollector, queue *protocol.InjectionQueue) *CLI {
	return &CLI{
		cfg:   cfg,
		bus:   bus,
		stats: stats,
		queue: queue,
	}
}

// Start begins the interactive CLI loop. It returns when the context is
// cancelled or stdin closes.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\npwnproxy CLI ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				log.Debug().Msg("stdin closed, CLI exiting")
				return
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			parts := strings.Fields(line)
			cmd := strings.ToLower(parts[0])
			args := parts[1:]

			if err := c.execute(ctx, cmd, args); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "inject", "i":
		return c.cmdInject(ctx, args)
	case "loglevel":
		return c.cmdLogLevel(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down pwnproxy...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\nCommands:")
	fmt.Println("  status             Show per-port proxy status")
	fmt.Println("  inject <hex>       Queue a raw packet for client->server injection")
	fmt.Println("  loglevel <level>   Change log level (trace, debug, info, warn, error)")
	fmt.Println("  quit               Shutdown the proxy")
	fmt.Println("  help               Show this help message")
	fmt.Println()
}

// printStatus displays per-port proxy statistics in a formatted table.
func (c *CLI) printStatus() {
	snapshot := c.stats.Snapshot()
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Port", "Role", "Gen", "Open", "Client B", "Server B", "Packets", "Unknown", "Errors", "Injected", "Last Activity"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range snapshot {
		role := "game"
		if s.Port == config.MasterPort {
			role = "master"
		}
		last := "-"
		if !s.LastActivity.IsZero() {
			last = s.LastActivity.Format(time.TimeOnly)
		}

		tw.Append([]string{
			fmt.Sprintf("%d", s.Port),
			role,
			fmt.Sprintf("%d", s.Generations),
			fmt.Sprintf("%d/2", s.OpenHalves),
			fmt.Sprintf("%d", s.BytesClient),
			fmt.Sprintf("%d", s.BytesServer),
			fmt.Sprintf("%d", s.PacketsDecoded),
			fmt.Sprintf("%d", s.UnknownTags),
			fmt.Sprintf("%d", s.DecodeErrors),
			fmt.Sprintf("%d", s.Injections),
			last,
		})
	}

	tw.Render()
	fmt.Printf("Pending injections: %d\n\n", c.queue.Len())
}

// cmdInject queues an arbitrary hex-encoded packet on the injection
// channel. The next forwarding step of a listener connection sends it to
// the real server, exactly like the decoder's automatic injections.
func (c *CLI) cmdInject(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: inject <hex bytes>")
	}

	raw := strings.Join(args, "")
	pkt, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(pkt) == 0 {
		return fmt.Errorf("empty packet")
	}

	c.queue.Push(pkt)
	fmt.Printf(";) Queued %d byte packet for injection: % x\n", len(pkt), pkt)
	return nil
}

// cmdLogLevel changes the global log level at runtime.
func (c *CLI) cmdLogLevel(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: loglevel <trace|debug|info|warn|error>")
	}
	return util.SetLogLevel(args[0])
}
