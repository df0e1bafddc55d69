// Package constants defines magic numbers and default values used throughout
// revsh-control.
package constants

import "time"

// Protocol version sent/expected during handshake step 1-2.
const (
	ProtoMajor uint16 = 1
	ProtoMinor uint16 = 0
)

// Message sizing (§3, §4.2).
const (
	// DefaultMessageDataSize is offered by the server before negotiation (0xFFFF).
	DefaultMessageDataSize uint16 = 0xFFFF

	// MinMessageDataSize is the floor a peer's proposal must meet or exceed.
	MinMessageDataSize uint16 = 1024
)

// Chunk sizes for stdin and per-flow socket reads (§4.3 (b), per-flow reader).
const (
	StdinChunkSize = 1024
	FlowChunkSize  = 1024
)

// Defaults for the operator command surface (§6).
const (
	DefaultListenAddr = "0.0.0.0:2200"
	DefaultShell      = "/bin/sh"

	// RemoteSocksPort is the localhost port the remote is asked to expose
	// over the tunnel in the ProxyCreate control frame (§4.3 (c)).
	RemoteSocksPort = 1081
)

// FlowLivenessInterval is how often a per-flow reader polls the flow table for
// its own removal (§5, §9).
const FlowLivenessInterval = 1 * time.Second

// SOCKS4 wire constants (§4.6).
const (
	Socks4Version        byte = 0x04
	Socks4CommandConnect byte = 0x01
	Socks4ReplyGranted   byte = 0x5A
)
