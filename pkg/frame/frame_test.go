package frame

import (
	"bytes"
	"testing"
)

func TestRoundTripSimple(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	r := NewReader(&buf)

	in := New().WithDataType(Tty).WithData([]byte("hello"))
	if err := w.Send(in); err != nil {
		t.Fatalf("Send: %v", err)
	}

	out, err := r.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out.DataType != Tty {
		t.Fatalf("DataType = %v, want Tty", out.DataType)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("Data = %q, want %q", out.Data, in.Data)
	}
}

func TestRoundTripSubheaderNoProxyType(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	r := NewReader(&buf)

	in := New().
		WithDataType(Connection).
		WithHeaderType(uint16(ConnectionData)).
		WithHeaderID(42).
		WithData([]byte{1, 2, 3})
	if err := w.Send(in); err != nil {
		t.Fatalf("Send: %v", err)
	}

	out, err := r.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out.HeaderType != uint16(ConnectionData) || out.HeaderID != 42 {
		t.Fatalf("unexpected subheader: %+v", out)
	}
	if out.HeaderProxyType != 0 {
		t.Fatalf("HeaderProxyType = %d, want 0", out.HeaderProxyType)
	}
}

func TestRoundTripSubheaderWithProxyType(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	r := NewReader(&buf)

	in := New().
		WithDataType(Connection).
		WithHeaderType(uint16(ConnectionCreate)).
		WithHeaderID(7).
		WithHeaderProxyType(Static).
		WithData(nil)
	if err := w.Send(in); err != nil {
		t.Fatalf("Send: %v", err)
	}

	out, err := r.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out.HeaderProxyType != uint16(Static) {
		t.Fatalf("HeaderProxyType = %d, want %d", out.HeaderProxyType, Static)
	}
}

func TestHeaderLen(t *testing.T) {
	cases := []struct {
		name string
		m    *Message
		want uint16
	}{
		{"plain", New().WithDataType(Nop), 3},
		{"proxy-destroy", New().WithDataType(Proxy).WithHeaderType(uint16(ProxyDestroy)), 9},
		{"proxy-create", New().WithDataType(Proxy).WithHeaderType(uint16(ProxyCreate)), 11},
		{"connection-data", New().WithDataType(Connection).WithHeaderType(uint16(ConnectionData)), 9},
		{"connection-create", New().WithDataType(Connection).WithHeaderType(uint16(ConnectionCreate)), 11},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.m.headerLen(); got != c.want {
				t.Fatalf("headerLen() = %d, want %d", got, c.want)
			}
		})
	}
}

// TestForwardCompatPadding exercises §8 scenario S6: a peer sending a
// header_len longer than any field this reader knows about must not desync
// the stream; the extra bytes are discarded and the payload still parses.
func TestForwardCompatPadding(t *testing.T) {
	var buf bytes.Buffer

	// Hand-build a Nop frame with 2 bytes of unknown trailing header data:
	// header_len=5, data_type=Nop(5), data_len=3, padding(2), data("xyz").
	buf.Write([]byte{0x00, 0x05, byte(Nop), 0x00, 0x03, 0xAA, 0xBB})
	buf.WriteString("xyz")

	r := NewReader(&buf)
	out, err := r.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out.DataType != Nop {
		t.Fatalf("DataType = %v, want Nop", out.DataType)
	}
	if string(out.Data) != "xyz" {
		t.Fatalf("Data = %q, want %q", out.Data, "xyz")
	}
}

func TestUnknownDataTypeFallback(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x03, 0xFE, 0x00, 0x00})

	r := NewReader(&buf)
	out, err := r.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if out.DataType != Unknown {
		t.Fatalf("DataType = %v, want Unknown", out.DataType)
	}
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 4)

	m := New().WithDataType(Tty).WithData([]byte("too long"))
	if err := w.Send(m); err == nil {
		t.Fatal("Send: want error for payload exceeding maxDataLen, got nil")
	}
}
