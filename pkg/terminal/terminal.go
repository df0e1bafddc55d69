// Package terminal puts the operator's controlling terminal into raw mode for
// the session's duration and tracks window-size changes, mirroring the
// original tool's Tty type (SIGWINCH handler + cfmakeraw/tcsetattr) with
// golang.org/x/term standing in for the raw termios calls.
package terminal

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/oddwire/revsh-control/pkg/errors"
	"golang.org/x/term"
)

// Terminal holds the saved terminal state needed to restore it on Close, and
// tracks whether a SIGWINCH has arrived since the last Resized check.
type Terminal struct {
	fd       int
	state    *term.State
	resized  atomic.Bool
	sigCh    chan os.Signal
	stopCh   chan struct{}
}

// New puts fd (ordinarily os.Stdin's descriptor) into raw mode and starts
// watching SIGWINCH. Call Close to restore the original terminal state.
func New(fd int) (*Terminal, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errors.NewHandshakeError("terminal raw mode", "failed to set raw mode", err)
	}

	t := &Terminal{
		fd:     fd,
		state:  state,
		sigCh:  make(chan os.Signal, 1),
		stopCh: make(chan struct{}),
	}

	signal.Notify(t.sigCh, syscall.SIGWINCH)
	go t.watchResize()

	return t, nil
}

func (t *Terminal) watchResize() {
	for {
		select {
		case <-t.sigCh:
			t.resized.Store(true)
		case <-t.stopCh:
			return
		}
	}
}

// Resized reports and clears whether a window-resize signal has arrived
// since the last call (§4.4 window size reporting).
func (t *Terminal) Resized() bool {
	return t.resized.Swap(false)
}

// Size returns the current (width, height) of the terminal in character
// cells, analogous to the original's get_term_size.
func (t *Terminal) Size() (width, height uint16, err error) {
	w, h, err := term.GetSize(t.fd)
	if err != nil {
		return 0, 0, errors.NewHandshakeError("terminal size", "failed to query window size", err)
	}
	return uint16(w), uint16(h), nil
}

// Close restores the terminal to its original state and stops the resize
// watcher.
func (t *Terminal) Close() error {
	close(t.stopCh)
	signal.Stop(t.sigCh)
	if err := term.Restore(t.fd, t.state); err != nil {
		return errors.NewHandshakeError("terminal restore", "failed to restore terminal state", err)
	}
	return nil
}
