// Package config handles command-line configuration and destination host
// validation for the proxy. There is no config file: everything beyond
// these flags is a fixed protocol constant.
package config

import (
	"flag"
	"fmt"
	"io"
)

// Port layout of the proxied game. The master server handles matchmaking
// on its reserved port; each game instance gets one port from the
// contiguous range. All are proxied, but master traffic is never decoded.
const (
	MasterPort    uint16 = 3333
	GamePortStart uint16 = 3000
	GamePortEnd   uint16 = 3004
)

// RecvBufferSize is the number of bytes read from a socket per receive.
const RecvBufferSize = 4096

const (
	DefaultListenHost = "0.0.0.0"
	DefaultLogLevel   = "info"
)

// Config holds the validated runtime configuration.
type Config struct {
	// DestinationHost is the real game server to proxy traffic to.
	DestinationHost string
	// ListenHost is the local address game clients connect to.
	ListenHost string
	// LogLevel is the zerolog level name.
	LogLevel string
}

// ParseFlags parses command-line arguments into a Config. args excludes the
// program name.
func ParseFlags(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("pwnproxy", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.DestinationHost, "d", "", "host to proxy data to (required)")
	fs.StringVar(&cfg.DestinationHost, "destination-host", "", "host to proxy data to (required)")
	fs.StringVar(&cfg.ListenHost, "listen-host", DefaultListenHost, "local address to bind proxied ports on")
	fs.StringVar(&cfg.LogLevel, "log-level", DefaultLogLevel, "log level (trace, debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return cfg, nil
}

// GamePorts returns the contiguous game instance port range.
func GamePorts() []uint16 {
	ports := make([]uint16, 0, GamePortEnd-GamePortStart+1)
	for p := GamePortStart; p <= GamePortEnd; p++ {
		ports = append(ports, p)
	}
	return ports
}

// AllPorts returns every port the proxy binds: the master port plus the
// game instance range.
func AllPorts() []uint16 {
	return append([]uint16{MasterPort}, GamePorts()...)
}
