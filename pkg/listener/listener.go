// Package listener implements the control side's bind/accept/handshake state
// machine (§4.2), grounded on the original tool's Control type
// (control.rs: new/accept/handle_client/negotiate_protocol).
package listener

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/oddwire/revsh-control/pkg/buffer"
	"github.com/oddwire/revsh-control/pkg/constants"
	"github.com/oddwire/revsh-control/pkg/errors"
	"github.com/oddwire/revsh-control/pkg/frame"
	"github.com/oddwire/revsh-control/pkg/identity"
	"github.com/oddwire/revsh-control/pkg/timing"
	"github.com/oddwire/revsh-control/pkg/tlsconfig"
	"github.com/sirupsen/logrus"
)

// Config bundles the listener's bind/TLS/session parameters (§6).
type Config struct {
	ListenAddr string
	KeyFile    string
	Shell      string
	Env        []string

	// TLSProfile selects one of tlsconfig's named version profiles (legacy,
	// compatible, secure, modern). Empty or unrecognized falls back to
	// ProfileLegacy, the most permissive.
	TLSProfile string

	// TermWidth/TermHeight are the operator terminal's size at bootstrap
	// time, or zero if no terminal driver was available to query (§4.2
	// step 10).
	TermWidth  uint16
	TermHeight uint16

	// Trace, when true, mirrors every raw frame byte sent and received from
	// the first bootstrap Init frame on into the returned Session's Trace
	// buffer, for post-mortem debugging of a fatal frame error. The
	// version/MTU exchange before it is not traced.
	Trace bool
}

// Session is the outcome of a completed bind/accept/handshake: a live,
// framed connection ready to be handed to the broker.
type Session struct {
	Conn          net.Conn
	Writer        *frame.Writer
	Reader        *frame.Reader
	MessageMaxLen uint16
	Metrics       timing.Metrics

	// Trace is non-nil when Config.Trace was set; it mirrors the raw wire
	// bytes of the session for post-mortem inspection.
	Trace *buffer.Buffer
}

// Listener accepts a single reverse connection and drives it through the TLS
// and protocol handshakes.
type Listener struct {
	cfg Config
	ln  net.Listener
	tls *tls.Config
	log *logrus.Entry
}

// New binds cfg.ListenAddr and loads the TLS identity from cfg.KeyFile
// (§4.2 step "listener accepts one TCP connection").
func New(cfg Config, log *logrus.Entry) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, errors.NewBindError(cfg.ListenAddr, err)
	}

	cert, err := identity.Load(cfg.KeyFile, "")
	if err != nil {
		ln.Close()
		return nil, err
	}

	profile, ok := tlsconfig.ProfileByName(cfg.TLSProfile)
	if !ok {
		// The teacher's profile table expresses "most compatible with
		// legacy peers" as ProfileLegacy; the handshake target here is an
		// arbitrary embedded client, so the most permissive profile is the
		// right default.
		profile = tlsconfig.ProfileLegacy
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	tlsconfig.ApplyVersionProfile(tlsCfg, profile)
	tlsconfig.ApplyCipherSuites(tlsCfg, profile.Min)

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Listener{cfg: cfg, ln: ln, tls: tlsCfg, log: log}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept blocks for a single inbound connection, performs the TLS and
// protocol handshakes, and returns a ready-to-broker Session (§4.2).
func (l *Listener) Accept() (*Session, error) {
	timer := timing.NewTimer()

	timer.StartAccept()
	raw, err := l.ln.Accept()
	timer.EndAccept()
	if err != nil {
		return nil, errors.NewBindError(l.cfg.ListenAddr, err)
	}
	l.log.WithField("remote", raw.RemoteAddr()).Info("accepted connection")

	timer.StartTLS()
	tlsConn := tls.Server(raw, l.tls)
	if err := tlsConn.Handshake(); err != nil {
		timer.EndTLS()
		raw.Close()
		return nil, errors.NewHandshakeError("tls", "TLS handshake failed", err)
	}
	timer.EndTLS()

	state := tlsConn.ConnectionState()
	logEntry := l.log.WithFields(logrus.Fields{
		"tls_version": tlsconfig.GetVersionName(state.Version),
		"cipher":      tlsconfig.GetCipherSuiteName(state.CipherSuite),
	})
	if tlsconfig.IsVersionDeprecated(state.Version) {
		logEntry.Warn("negotiated a deprecated TLS version")
	} else {
		logEntry.Info("TLS handshake complete")
	}

	var trace *buffer.Buffer
	var wireReader io.Reader = tlsConn
	var wireWriter io.Writer = tlsConn
	if l.cfg.Trace {
		trace = buffer.New(buffer.DefaultMemoryLimit)
		wireReader = io.TeeReader(tlsConn, trace)
		wireWriter = io.MultiWriter(tlsConn, trace)
	}

	w := frame.NewWriter(wireWriter, 0)
	r := frame.NewReader(wireReader)

	timer.StartNegotiate()
	maxLen, err := negotiateProtocol(tlsConn)
	timer.EndNegotiate()
	if err != nil {
		tlsConn.Close()
		return nil, err
	}
	w.SetMaxDataLen(maxLen)
	l.log.WithField("message_data_size", maxLen).Info("protocol negotiated")

	timer.StartBootstrap()
	if err := bootstrap(w, r, l.cfg); err != nil {
		timer.EndBootstrap()
		tlsConn.Close()
		return nil, err
	}
	timer.EndBootstrap()

	return &Session{
		Conn:          tlsConn,
		Writer:        w,
		Reader:        r,
		MessageMaxLen: maxLen,
		Metrics:       timer.GetMetrics(),
		Trace:         trace,
	}, nil
}

// negotiateProtocol exchanges proto major/minor and the message_data_size
// MTU (§4.2 steps 1-5), mirroring Control::negotiate_protocol exactly:
// proto version is sent and read but not itself validated, only the
// resulting data size is.
func negotiateProtocol(conn io.ReadWriter) (uint16, error) {
	var buf2 [2]byte

	binary.BigEndian.PutUint16(buf2[:], constants.ProtoMajor)
	if _, err := conn.Write(buf2[:]); err != nil {
		return 0, errors.NewHandshakeError("negotiate", "failed to send proto major", err)
	}
	binary.BigEndian.PutUint16(buf2[:], constants.ProtoMinor)
	if _, err := conn.Write(buf2[:]); err != nil {
		return 0, errors.NewHandshakeError("negotiate", "failed to send proto minor", err)
	}

	if _, err := io.ReadFull(conn, buf2[:]); err != nil {
		return 0, errors.NewHandshakeError("negotiate", "failed to read proto major", err)
	}
	if _, err := io.ReadFull(conn, buf2[:]); err != nil {
		return 0, errors.NewHandshakeError("negotiate", "failed to read proto minor", err)
	}

	binary.BigEndian.PutUint16(buf2[:], constants.DefaultMessageDataSize)
	if _, err := conn.Write(buf2[:]); err != nil {
		return 0, errors.NewHandshakeError("negotiate", "failed to send message_data_size", err)
	}

	if _, err := io.ReadFull(conn, buf2[:]); err != nil {
		return 0, errors.NewHandshakeError("negotiate", "failed to read message_data_size", err)
	}
	dataSize := binary.BigEndian.Uint16(buf2[:])

	if dataSize < constants.MinMessageDataSize {
		return 0, errors.NewHandshakeError("negotiate", "peer proposed a message size below the floor", nil)
	}

	if dataSize < constants.DefaultMessageDataSize {
		return dataSize, nil
	}
	return constants.DefaultMessageDataSize, nil
}

// bootstrap sends and receives the four Init frames (§4.2 steps 6-10):
// interactive flag, shell path, environment, terminal size.
func bootstrap(w *frame.Writer, r *frame.Reader, cfg Config) error {
	if err := w.Send(frame.New().WithDataType(frame.Init).WithData([]byte{0x01})); err != nil {
		return errors.NewHandshakeError("bootstrap", "failed to send interactive flag", err)
	}

	if _, err := r.Recv(); err != nil {
		return errors.NewHandshakeError("bootstrap", "failed to read peer Init ack", err)
	}

	shell := cfg.Shell
	if shell == "" {
		shell = constants.DefaultShell
	}
	if err := w.Send(frame.New().WithDataType(frame.Init).WithData([]byte(shell))); err != nil {
		return errors.NewHandshakeError("bootstrap", "failed to send shell path", err)
	}

	env := cfg.Env
	if len(env) == 0 {
		env = []string{"PATH=/bin:/usr/bin/"}
	}
	if err := w.Send(frame.New().WithDataType(frame.Init).WithData([]byte(strings.Join(env, " ")))); err != nil {
		return errors.NewHandshakeError("bootstrap", "failed to send environment", err)
	}

	// Zero width/height means no terminal driver was available to the
	// caller; both values are sent as zero rather than substituted, per the
	// handshake's "unavailable" convention (§4.2 step 10).
	width, height := cfg.TermWidth, cfg.TermHeight
	winsize := make([]byte, 4)
	binary.BigEndian.PutUint16(winsize[0:2], width)
	binary.BigEndian.PutUint16(winsize[2:4], height)
	if err := w.Send(frame.New().WithDataType(frame.Init).WithData(winsize)); err != nil {
		return errors.NewHandshakeError("bootstrap", "failed to send terminal size", err)
	}

	return nil
}

// String renders a Session's peer address for logging.
func (s *Session) String() string {
	return fmt.Sprintf("session[%s]", s.Conn.RemoteAddr())
}
