// Package timing provides phase-duration measurement for the control
// handshake.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the duration of each handshake phase (§4.2).
type Metrics struct {
	// TCPAccept is the time spent accepting the inbound TCP connection.
	TCPAccept time.Duration `json:"tcp_accept"`

	// TLSHandshake is the time spent performing the TLS server handshake.
	TLSHandshake time.Duration `json:"tls_handshake"`

	// ProtocolNegotiate is the time spent on the version/MTU exchange
	// (handshake steps 1-5).
	ProtocolNegotiate time.Duration `json:"protocol_negotiate"`

	// Bootstrap is the time spent sending the Init frames (steps 6-10).
	Bootstrap time.Duration `json:"bootstrap"`

	// TotalTime is the total end-to-end handshake time.
	TotalTime time.Duration `json:"total_time"`
}

// Timer helps measure handshake phase timings.
type Timer struct {
	start time.Time

	acceptStart time.Time
	acceptEnd   time.Time

	tlsStart time.Time
	tlsEnd   time.Time

	negotiateStart time.Time
	negotiateEnd   time.Time

	bootstrapStart time.Time
	bootstrapEnd   time.Time
}

// NewTimer creates a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartAccept marks the beginning of the TCP accept call.
func (t *Timer) StartAccept() { t.acceptStart = time.Now() }

// EndAccept marks the end of the TCP accept call.
func (t *Timer) EndAccept() { t.acceptEnd = time.Now() }

// StartTLS marks the beginning of the TLS handshake.
func (t *Timer) StartTLS() { t.tlsStart = time.Now() }

// EndTLS marks the end of the TLS handshake.
func (t *Timer) EndTLS() { t.tlsEnd = time.Now() }

// StartNegotiate marks the beginning of the version/MTU exchange.
func (t *Timer) StartNegotiate() { t.negotiateStart = time.Now() }

// EndNegotiate marks the end of the version/MTU exchange.
func (t *Timer) EndNegotiate() { t.negotiateEnd = time.Now() }

// StartBootstrap marks the beginning of the Init frame sequence.
func (t *Timer) StartBootstrap() { t.bootstrapStart = time.Now() }

// EndBootstrap marks the end of the Init frame sequence.
func (t *Timer) EndBootstrap() { t.bootstrapEnd = time.Now() }

// GetMetrics returns the calculated phase metrics.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.acceptStart.IsZero() && !t.acceptEnd.IsZero() {
		m.TCPAccept = t.acceptEnd.Sub(t.acceptStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.negotiateStart.IsZero() && !t.negotiateEnd.IsZero() {
		m.ProtocolNegotiate = t.negotiateEnd.Sub(t.negotiateStart)
	}
	if !t.bootstrapStart.IsZero() && !t.bootstrapEnd.IsZero() {
		m.Bootstrap = t.bootstrapEnd.Sub(t.bootstrapStart)
	}

	return m
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("TCPAccept: %v, TLSHandshake: %v, ProtocolNegotiate: %v, Bootstrap: %v, TotalTime: %v",
		m.TCPAccept, m.TLSHandshake, m.ProtocolNegotiate, m.Bootstrap, m.TotalTime)
}
