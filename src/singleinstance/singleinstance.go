// Package singleinstance keeps one resident per user session and lets later
// invocations hand their activation to it over loopback TCP.
package singleinstance

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// Server owns the TCP endpoint and answers activation requests.
type Server interface {
	// Start listens on the first port of the configured range.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted request, or the ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn is one pending client. Exactly one Respond call should precede Close.
type Conn interface {
	Request() Request
	RespondSuccess(text string) error
	RespondError(msg string) error
	Close() error
}

type Mode string

const (
	// ModeActivate answers as soon as selection mode is armed.
	ModeActivate Mode = "ACTIVATE"
	// ModeWait answers once the selection cycle has a result or error.
	ModeWait Mode = "WAIT"
)

type Request struct {
	Mode Mode
	// JSON asks for the full analysis as JSON instead of the translation text.
	JSON bool
}

// Client delegates activation to a resident server.
type Client interface {
	// TryActivate finds the resident and hands it req. With no resident it
	// returns delegated=false and a nil error. ctx bounds the whole exchange,
	// so WAIT callers should not give it a short deadline.
	TryActivate(ctx context.Context, req Request) (delegated bool, text string, err error)
}

func NewServer() Server { return &tcpServer{incoming: make(chan *tcpConn, 8)} }

func NewClient() Client { return &tcpClient{probeTimeout: defaultProbeTimeout} }

const (
	defaultPortStart = 49500
	defaultPortEnd   = 49550

	PortStartEnvVar = "SINGLEINSTANCE_PORT_START"
	PortEndEnvVar   = "SINGLEINSTANCE_PORT_END"
)

// PortRange is an inclusive range of loopback ports. The resident binds
// Start; clients probe every port in the range.
type PortRange struct {
	Start, End int
}

// PortRangeFromEnv reads SINGLEINSTANCE_PORT_START/END, falling back to
// 49500-49550, and keeps the result within unprivileged ports.
func PortRangeFromEnv() PortRange {
	r := PortRange{
		Start: envPort(PortStartEnvVar, defaultPortStart),
		End:   envPort(PortEndEnvVar, defaultPortEnd),
	}
	if r.End < r.Start {
		r.Start, r.End = r.End, r.Start
	}
	if r.Start < 1024 {
		r.Start = 1024
	}
	if r.End > 65535 {
		r.End = 65535
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

func envPort(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
