package socks4

import (
	"bytes"
	"testing"
)

func TestReadConnectRequest(t *testing.T) {
	buf := bytes.NewBuffer([]byte{
		0x04,             // VER
		0x01,             // CMD CONNECT
		0x1F, 0x90,       // DSTPORT 8080
		127, 0, 0, 1,     // DSTIP
		0x00,             // NULL terminator (empty user id)
	})

	req, err := ReadConnectRequest(buf)
	if err != nil {
		t.Fatalf("ReadConnectRequest: %v", err)
	}
	if req.DstPort != 8080 {
		t.Fatalf("DstPort = %d, want 8080", req.DstPort)
	}
	if req.Addr() != "127.0.0.1:8080" {
		t.Fatalf("Addr() = %q, want 127.0.0.1:8080", req.Addr())
	}
}

func TestReadConnectRequestRejectsBadVersion(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x05, 0x01})
	if _, err := ReadConnectRequest(buf); err == nil {
		t.Fatal("ReadConnectRequest: want error for wrong version, got nil")
	}
}

func TestReadConnectRequestRejectsBadCommand(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x04, 0x02})
	if _, err := ReadConnectRequest(buf); err == nil {
		t.Fatal("ReadConnectRequest: want error for non-CONNECT command, got nil")
	}
}

func TestWriteGrantedReply(t *testing.T) {
	req := &ConnectRequest{DstPort: 80}
	req.DstIP = []byte{10, 0, 0, 1}

	var out bytes.Buffer
	if err := WriteGrantedReply(&out, req); err != nil {
		t.Fatalf("WriteGrantedReply: %v", err)
	}

	want := []byte{0x00, 0x5A, 0x00, 0x50, 10, 0, 0, 1}
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("reply = % X, want % X", out.Bytes(), want)
	}
}
