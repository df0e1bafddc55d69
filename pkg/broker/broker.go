// Package broker implements the session broker (§4.3, §5): the three
// cooperating tasks that demultiplex an inbound framed stream, forward
// operator terminal input, and tunnel SOCKS4 flows over it. Grounded on the
// original tool's Broker type (broker.rs).
package broker

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/oddwire/revsh-control/pkg/constants"
	"github.com/oddwire/revsh-control/pkg/errors"
	"github.com/oddwire/revsh-control/pkg/frame"
	"github.com/oddwire/revsh-control/pkg/socks4"
	"github.com/oddwire/revsh-control/pkg/terminal"
	"github.com/sirupsen/logrus"
)

// flowState is one live SOCKS4-tunneled TCP connection, keyed by the
// ephemeral local source port the SOCKS client connected from (§4.3 (c),
// §9 flow table).
type flowState struct {
	conn net.Conn
}

// Broker owns the frame reader/writer pair and the flow table for a single
// bootstrapped session.
type Broker struct {
	writer *frame.Writer
	reader *frame.Reader

	proxyListenAddr string // empty disables the SOCKS4 listener (§4.3 (c))

	mu sync.Mutex
	// flows is keyed by ephemeral source port; a port can theoretically be
	// reused by the OS while a prior flow with the same id is still
	// draining, but this is not disambiguated (§9).
	flows map[uint16]*flowState

	stdout io.Writer
	stdin  io.Reader

	// term is the operator's controlling terminal, used to poll for a
	// window-resize since the last frame and to size the Winresize frame
	// sent in response (§4.3 (a), §5). Nil when no raw-mode terminal is
	// available, in which case resize polling is skipped entirely.
	term *terminal.Terminal

	log *logrus.Entry
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithProxyListenAddr enables the SOCKS4 acceptor task on addr (§4.3 (c)).
func WithProxyListenAddr(addr string) Option {
	return func(b *Broker) { b.proxyListenAddr = addr }
}

// WithIO overrides the default stdin/stdout streams, mainly for tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(b *Broker) { b.stdin, b.stdout = in, out }
}

// WithTerminal wires the operator's controlling terminal into the broker so
// it can poll for window-resize events between frames (§4.3 (a)).
func WithTerminal(t *terminal.Terminal) Option {
	return func(b *Broker) { b.term = t }
}

// New builds a Broker over an already-bootstrapped session's reader/writer.
func New(w *frame.Writer, r *frame.Reader, log *logrus.Entry, opts ...Option) *Broker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Broker{
		writer: w,
		reader: r,
		flows:  make(map[uint16]*flowState),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		log:    log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drives the session until ctx is canceled, the remote hangs up, or
// stdin reaches EOF (§4.3, §5). It mirrors Broker::run: announce the proxy if
// configured, spawn the inbound demultiplexer, the SOCKS4 acceptor and the
// stdin forwarder, then return as soon as the demultiplexer or the stdin
// forwarder finishes (or any task fails), canceling the context it handed
// to the others. Stdin EOF returns nil.
func (b *Broker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if b.proxyListenAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", b.proxyListenAddr)
		if err != nil {
			return errors.NewHandshakeError("broker", "invalid proxy listen address", err)
		}
		proxyString := fmt.Sprintf("%d:127.0.0.1:%d", addr.Port, constants.RemoteSocksPort)
		if err := b.writer.Send(frame.New().
			WithDataType(frame.Proxy).
			WithHeaderType(uint16(frame.ProxyCreate)).
			WithHeaderProxyType(frame.Static).
			WithData([]byte(proxyString))); err != nil {
			return errors.NewHandshakeError("broker", "failed to announce proxy", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- b.messageHandler(ctx)
	}()

	if b.proxyListenAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.proxyListener(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- b.stdinHandler(ctx)
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	case <-done:
		return nil
	}
}

// messageHandler is the inbound demultiplexer (§4.3 (a)): it pulls frames
// off the wire, routes Tty output to the operator terminal, Error output to
// stderr, and Connection data to the matching flow. After each frame it
// polls the terminal driver for a pending resize and, if one is pending,
// announces the new size with a Winresize frame (§4.3 (a), §5).
func (b *Broker) messageHandler(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m, err := b.reader.Recv()
		if err != nil {
			return err
		}

		switch m.DataType {
		case frame.Tty:
			if _, err := b.stdout.Write(m.Data); err != nil {
				return errors.NewFrameError("write stdout", err)
			}
		case frame.Error:
			if _, err := os.Stderr.Write(m.Data); err != nil {
				return errors.NewFrameError("write stderr", err)
			}
			if _, err := os.Stderr.Write([]byte("\r\n")); err != nil {
				return errors.NewFrameError("write stderr", err)
			}
		case frame.Connection:
			b.handleConnectionFrame(m)
		default:
			// Init/Winresize/Proxy/Nop/Unknown frames arriving after
			// bootstrap carry no broker-level action (§4.3).
			b.log.WithField("data_type", m.DataType).Debug("ignoring frame")
		}

		if err := b.checkResize(); err != nil {
			return err
		}
	}
}

// checkResize sends a Winresize frame when the terminal driver has asserted
// the resize flag since the last check, clearing it in the process (§4.3
// (a), §5). A no-op when no terminal driver is wired in.
func (b *Broker) checkResize() error {
	if b.term == nil || !b.term.Resized() {
		return nil
	}

	width, height, err := b.term.Size()
	if err != nil {
		b.log.WithError(err).Warn("failed to query terminal size after resize")
		return nil
	}

	winsize := make([]byte, 4)
	binary.BigEndian.PutUint16(winsize[0:2], width)
	binary.BigEndian.PutUint16(winsize[2:4], height)

	if err := b.writer.Send(frame.New().WithDataType(frame.Winresize).WithData(winsize)); err != nil {
		return errors.NewFrameError("send winresize", err)
	}
	return nil
}

func (b *Broker) handleConnectionFrame(m *frame.Message) {
	id := m.HeaderID

	b.mu.Lock()
	fs, ok := b.flows[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	if len(m.Data) == 0 {
		delete(b.flows, id)
		b.mu.Unlock()
		fs.conn.Close()
		return
	}
	b.mu.Unlock()

	if _, err := fs.conn.Write(m.Data); err != nil {
		b.log.WithError(err).WithField("flow", id).Warn("flow write failed")
		b.removeFlow(id)
	}
}

// stdinHandler forwards operator terminal input as Tty frames (§4.3 (b)).
func (b *Broker) stdinHandler(ctx context.Context) error {
	buf := make([]byte, constants.StdinChunkSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := b.stdin.Read(buf)
		if n > 0 {
			if err := b.writer.Send(frame.New().WithDataType(frame.Tty).WithData(append([]byte(nil), buf[:n]...))); err != nil {
				return err
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.NewFrameError("read stdin", err)
		}
	}
}

// proxyListener is the SOCKS4 acceptor task (§4.3 (c)): it binds
// proxyListenAddr and, for each accepted connection, parses a SOCKS4
// CONNECT request, announces a ConnectionCreate frame keyed by the
// connection's ephemeral source port, and spawns a per-flow reader.
func (b *Broker) proxyListener(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.proxyListenAddr)
	if err != nil {
		return errors.NewBindError(b.proxyListenAddr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.NewBindError(b.proxyListenAddr, err)
		}
		go b.proxyHandler(ctx, conn)
	}
}

// proxyHandler performs one SOCKS4 CONNECT handshake and, on success,
// registers the flow and starts its reader (§4.3 (c), §4.6).
func (b *Broker) proxyHandler(ctx context.Context, conn net.Conn) {
	id := sourcePort(conn)

	req, err := socks4.ReadConnectRequest(conn)
	if err != nil {
		b.log.WithError(err).Warn("socks4 request parse failed")
		conn.Close()
		return
	}

	if err := b.writer.Send(frame.New().
		WithDataType(frame.Connection).
		WithHeaderType(uint16(frame.ConnectionCreate)).
		WithHeaderID(id).
		WithData([]byte(req.Addr()))); err != nil {
		b.log.WithError(err).Warn("failed to announce connection")
		conn.Close()
		return
	}

	if err := socks4.WriteGrantedReply(conn, req); err != nil {
		b.log.WithError(err).Warn("socks4 reply write failed")
		conn.Close()
		return
	}

	b.mu.Lock()
	b.flows[id] = &flowState{conn: conn}
	b.mu.Unlock()

	b.flowReader(ctx, id, conn)
}

// flowReader is the per-flow reader (§4.3 (c), §5, §9): it copies bytes from
// the local SOCKS connection into Connection/Data frames and polls the flow
// table once a second so that a remote-initiated close tears it down too.
func (b *Broker) flowReader(ctx context.Context, id uint16, conn net.Conn) {
	defer b.removeFlow(id)

	buf := make([]byte, constants.FlowChunkSize)
	for {
		conn.SetReadDeadline(timeNowPlus(constants.FlowLivenessInterval))
		n, err := conn.Read(buf)
		if n > 0 {
			if sendErr := b.writer.Send(frame.New().
				WithDataType(frame.Connection).
				WithHeaderType(uint16(frame.ConnectionData)).
				WithHeaderID(id).
				WithData(append([]byte(nil), buf[:n]...))); sendErr != nil {
				b.log.WithError(sendErr).WithField("flow", id).Warn("flow frame send failed")
				return
			}
		}
		if err != nil {
			if isTimeout(err) {
				if !b.flowAlive(id) {
					return
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			return
		}
	}
}

func (b *Broker) flowAlive(id uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.flows[id]
	return ok
}

func (b *Broker) removeFlow(id uint16) {
	b.mu.Lock()
	fs, ok := b.flows[id]
	if ok {
		delete(b.flows, id)
	}
	b.mu.Unlock()
	if ok {
		fs.conn.Close()
	}
}

func sourcePort(conn net.Conn) uint16 {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}
