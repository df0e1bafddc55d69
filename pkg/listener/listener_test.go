package listener

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/oddwire/revsh-control/pkg/frame"
)

// fakePeer drives the "remote" side of negotiateProtocol/bootstrap over a
// net.Pipe, mimicking just enough of the embedded client's handshake
// behavior to exercise the listener side.
func fakePeer(t *testing.T, conn net.Conn, offeredSize uint16) {
	t.Helper()
	var buf2 [2]byte

	// proto major/minor sent by the listener; ignored, but read to drain.
	io.ReadFull(conn, buf2[:])
	io.ReadFull(conn, buf2[:])

	// echo back an arbitrary proto version.
	binary.BigEndian.PutUint16(buf2[:], 1)
	conn.Write(buf2[:])
	binary.BigEndian.PutUint16(buf2[:], 0)
	conn.Write(buf2[:])

	// listener's own message_data_size offer.
	io.ReadFull(conn, buf2[:])

	binary.BigEndian.PutUint16(buf2[:], offeredSize)
	conn.Write(buf2[:])
}

func TestNegotiateProtocolAcceptsSmallerPeerSize(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go fakePeer(t, remote, 2048)

	size, err := negotiateProtocol(local)
	if err != nil {
		t.Fatalf("negotiateProtocol: %v", err)
	}
	if size != 2048 {
		t.Fatalf("size = %d, want 2048", size)
	}
}

func TestNegotiateProtocolRejectsUndersizedPeer(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	go fakePeer(t, remote, 512)

	if _, err := negotiateProtocol(local); err == nil {
		t.Fatal("negotiateProtocol: want error for undersized peer, got nil")
	}
}

func TestBootstrapSendsFourInitFrames(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	w := frame.NewWriter(local, 0)
	r := frame.NewReader(local)

	remoteReader := frame.NewReader(remote)
	remoteWriter := frame.NewWriter(remote, 0)

	done := make(chan error, 1)
	go func() { done <- bootstrap(w, r, Config{Shell: "/bin/bash", Env: []string{"FOO=bar"}}) }()

	interactive, err := remoteReader.Recv()
	if err != nil {
		t.Fatalf("recv interactive: %v", err)
	}
	if interactive.DataType != frame.Init || len(interactive.Data) != 1 || interactive.Data[0] != 0x01 {
		t.Fatalf("unexpected interactive frame: %+v", interactive)
	}

	if err := remoteWriter.Send(frame.New().WithDataType(frame.Init).WithData(nil)); err != nil {
		t.Fatalf("send ack: %v", err)
	}

	shellMsg, err := remoteReader.Recv()
	if err != nil {
		t.Fatalf("recv shell: %v", err)
	}
	if string(shellMsg.Data) != "/bin/bash" {
		t.Fatalf("shell = %q, want /bin/bash", shellMsg.Data)
	}

	envMsg, err := remoteReader.Recv()
	if err != nil {
		t.Fatalf("recv env: %v", err)
	}
	if string(envMsg.Data) != "FOO=bar" {
		t.Fatalf("env = %q, want FOO=bar", envMsg.Data)
	}

	winMsg, err := remoteReader.Recv()
	if err != nil {
		t.Fatalf("recv winsize: %v", err)
	}
	if len(winMsg.Data) != 4 {
		t.Fatalf("winsize len = %d, want 4", len(winMsg.Data))
	}

	if err := <-done; err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
}
