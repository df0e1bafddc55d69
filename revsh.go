// Package revsh re-exports the control-side building blocks as a single
// import, mirroring the teacher library's root-package re-export pattern.
package revsh

import (
	"github.com/oddwire/revsh-control/pkg/broker"
	"github.com/oddwire/revsh-control/pkg/frame"
	"github.com/oddwire/revsh-control/pkg/listener"
)

// Listener accepts a single reverse connection and drives its handshake.
type Listener = listener.Listener

// ListenerConfig bundles the listener's bind/TLS/session parameters.
type ListenerConfig = listener.Config

// Session is a bootstrapped, broker-ready connection.
type Session = listener.Session

// Broker multiplexes one bootstrapped session's terminal and proxy traffic.
type Broker = broker.Broker

// BrokerOption configures a Broker at construction time.
type BrokerOption = broker.Option

// Message is one decoded frame of the wire protocol.
type Message = frame.Message

// NewListener binds cfg.ListenAddr and loads the TLS identity from
// cfg.KeyFile.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	return listener.New(cfg, nil)
}

// NewBroker builds a Broker over a bootstrapped session.
func NewBroker(s *Session, opts ...BrokerOption) *Broker {
	return broker.New(s.Writer, s.Reader, nil, opts...)
}

// WithProxyListenAddr enables the SOCKS4 acceptor task.
func WithProxyListenAddr(addr string) BrokerOption {
	return broker.WithProxyListenAddr(addr)
}
