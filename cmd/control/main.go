// Command control is the operator-facing entrypoint: it binds a TLS
// listener, waits for a single reverse connection, completes the protocol
// handshake, and then hands the session to the broker. Grounded on the
// original tool's src/bin/control.rs CLI surface.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oddwire/revsh-control/pkg/broker"
	"github.com/oddwire/revsh-control/pkg/buffer"
	"github.com/oddwire/revsh-control/pkg/constants"
	"github.com/oddwire/revsh-control/pkg/listener"
	"github.com/oddwire/revsh-control/pkg/terminal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type envFlags []string

func (e *envFlags) String() string     { return strings.Join(*e, ",") }
func (e *envFlags) Set(v string) error { *e = append(*e, v); return nil }
func (e *envFlags) Type() string       { return "stringArray" }

func main() {
	var (
		keyFile    string
		listenAddr string
		proxyAddr  string
		shell      string
		env        envFlags
		logLevel   string
		noRawTTY   bool
		traceFile  string
		tlsProfile string
	)

	root := &cobra.Command{
		Use:           "control",
		Short:         "Accept a single reverse connection and broker the session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(logLevel)
			return run(cmd.Context(), log, runConfig{
				keyFile:    keyFile,
				listenAddr: listenAddr,
				proxyAddr:  proxyAddr,
				shell:      shell,
				env:        env,
				noRawTTY:   noRawTTY,
				traceFile:  traceFile,
				tlsProfile: tlsProfile,
			})
		},
	}

	flags := root.Flags()
	flags.StringVar(&keyFile, "keyfile", "", "path to the PKCS#12 identity bundle (required)")
	flags.StringVar(&listenAddr, "listen-addr", constants.DefaultListenAddr, "address to bind for the inbound connection")
	flags.StringVar(&proxyAddr, "proxy-addr", "", "address to bind the SOCKS4 proxy listener (disabled if empty)")
	flags.StringVar(&shell, "shell", constants.DefaultShell, "shell path advertised to the remote")
	flags.Var(&env, "env", "KEY=VALUE environment entry (repeatable)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&noRawTTY, "no-raw-tty", false, "do not put the controlling terminal into raw mode")
	flags.StringVar(&traceFile, "trace-file", "", "on fatal error, dump the raw wire trace to this path (disabled if empty)")
	flags.StringVar(&tlsProfile, "tls-profile", "legacy", "TLS version profile: legacy, compatible, secure, or modern")
	root.MarkFlagRequired("keyfile")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Entry {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return logrus.NewEntry(log)
}

type runConfig struct {
	keyFile    string
	listenAddr string
	proxyAddr  string
	shell      string
	env        []string
	noRawTTY   bool
	traceFile  string
	tlsProfile string
}

func run(ctx context.Context, log *logrus.Entry, cfg runConfig) error {
	// The terminal must be opened before Accept, since the handshake's
	// bootstrap step sends the term-size Init frame from inside Accept
	// itself; a terminal opened afterward would be too late to be queried.
	var term *terminal.Terminal
	var termWidth, termHeight uint16
	if !cfg.noRawTTY {
		var err error
		term, err = terminal.New(int(os.Stdin.Fd()))
		if err != nil {
			log.WithError(err).Warn("failed to set raw tty mode, continuing without it")
		} else {
			defer term.Close()
			termWidth, termHeight, err = term.Size()
			if err != nil {
				log.WithError(err).Warn("failed to query terminal size")
				termWidth, termHeight = 0, 0
			}
		}
	}

	ln, err := listener.New(listener.Config{
		ListenAddr: cfg.listenAddr,
		KeyFile:    cfg.keyFile,
		Shell:      cfg.shell,
		Env:        cfg.env,
		TLSProfile: cfg.tlsProfile,
		TermWidth:  termWidth,
		TermHeight: termHeight,
		Trace:      cfg.traceFile != "",
	}, log)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.WithField("addr", ln.Addr()).Info("listening")

	var session *listener.Session
	for {
		session, err = ln.Accept()
		if err == nil {
			break
		}
		log.WithError(err).Warn("accept failed, retrying")
	}
	defer session.Conn.Close()

	log.WithField("metrics", session.Metrics.String()).Info("handshake complete")

	brokerOpts := []broker.Option{}
	if cfg.proxyAddr != "" {
		brokerOpts = append(brokerOpts, broker.WithProxyListenAddr(cfg.proxyAddr))
	}
	if term != nil {
		brokerOpts = append(brokerOpts, broker.WithTerminal(term))
	}
	b := broker.New(session.Writer, session.Reader, log, brokerOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	runErr := b.Run(runCtx)
	if runErr != nil && session.Trace != nil {
		if dumpErr := dumpTrace(session.Trace, cfg.traceFile); dumpErr != nil {
			log.WithError(dumpErr).Warn("failed to write wire trace")
		} else {
			log.WithField("path", cfg.traceFile).Info("wrote wire trace")
		}
	}
	return runErr
}

func dumpTrace(trace *buffer.Buffer, path string) error {
	r, err := trace.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}
