package frame

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/oddwire/revsh-control/pkg/errors"
)

// Writer serializes frames onto an underlying stream, holding a mutex across
// each full frame so that concurrent senders never interleave (§4.1, §5,
// §9 "Shared mutable writer"). This mirrors the teacher's own
// http2.RawFrameBuilder technique of assembling a header with
// encoding/binary around a variable payload, generalized to this format's
// variable-length header instead of HTTP/2's fixed 9-byte one.
type Writer struct {
	mu sync.Mutex
	w  io.Writer

	// maxDataLen, when nonzero, is the negotiated message_data_size (§3);
	// Send rejects frames whose payload exceeds it.
	maxDataLen uint16
}

// NewWriter wraps w. maxDataLen is the negotiated MTU; pass 0 before
// negotiation completes to skip the check.
func NewWriter(w io.Writer, maxDataLen uint16) *Writer {
	return &Writer{w: w, maxDataLen: maxDataLen}
}

// SetMaxDataLen updates the MTU cap once negotiation (§4.2 step 5) completes.
func (w *Writer) SetMaxDataLen(n uint16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxDataLen = n
}

// Send encodes and writes one frame atomically (§4.1 encode_and_send).
func (w *Writer) Send(m *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxDataLen > 0 && len(m.Data) > int(w.maxDataLen) {
		return errors.NewFrameError("send", errors.NewHandshakeError(
			"mtu", "payload exceeds negotiated message_data_size", nil))
	}

	buf := make([]byte, 0, 2+int(m.headerLen())+len(m.Data))
	var tmp [2]byte

	binary.BigEndian.PutUint16(tmp[:], m.headerLen())
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(m.DataType))
	binary.BigEndian.PutUint16(tmp[:], uint16(len(m.Data)))
	buf = append(buf, tmp[:]...)

	if hasSubheader(m.DataType) {
		binary.BigEndian.PutUint16(tmp[:], m.HeaderType)
		buf = append(buf, tmp[:]...)
		binary.BigEndian.PutUint16(tmp[:], m.HeaderOrigin)
		buf = append(buf, tmp[:]...)
		binary.BigEndian.PutUint16(tmp[:], m.HeaderID)
		buf = append(buf, tmp[:]...)
		if needsProxyType(m.DataType, m.HeaderType) {
			binary.BigEndian.PutUint16(tmp[:], m.HeaderProxyType)
			buf = append(buf, tmp[:]...)
		}
	}

	buf = append(buf, m.Data...)

	if _, err := w.w.Write(buf); err != nil {
		return errors.NewFrameError("send", err)
	}
	return nil
}

// Reader deserializes frames from an underlying stream, holding a mutex
// across each full frame (§4.1 read_one, §5).
type Reader struct {
	mu sync.Mutex
	r  io.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Recv reads and decodes exactly one frame (§4.1 read_one). A short read of
// any kind is a fatal frame-level error (§7).
func (r *Reader) Recv() (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf2 [2]byte
	if _, err := io.ReadFull(r.r, buf2[:]); err != nil {
		return nil, errors.NewFrameError("recv header_len", err)
	}
	headerLen := int(binary.BigEndian.Uint16(buf2[:]))

	var buf1 [1]byte
	if _, err := io.ReadFull(r.r, buf1[:]); err != nil {
		return nil, errors.NewFrameError("recv data_type", err)
	}
	m := &Message{DataType: dataTypeFromWire(buf1[0])}
	remaining := headerLen - 1

	if _, err := io.ReadFull(r.r, buf2[:]); err != nil {
		return nil, errors.NewFrameError("recv data_len", err)
	}
	dataLen := int(binary.BigEndian.Uint16(buf2[:]))
	remaining -= 2

	if hasSubheader(m.DataType) {
		if _, err := io.ReadFull(r.r, buf2[:]); err != nil {
			return nil, errors.NewFrameError("recv header_type", err)
		}
		m.HeaderType = binary.BigEndian.Uint16(buf2[:])
		remaining -= 2

		if _, err := io.ReadFull(r.r, buf2[:]); err != nil {
			return nil, errors.NewFrameError("recv header_origin", err)
		}
		m.HeaderOrigin = binary.BigEndian.Uint16(buf2[:])
		remaining -= 2

		if _, err := io.ReadFull(r.r, buf2[:]); err != nil {
			return nil, errors.NewFrameError("recv header_id", err)
		}
		m.HeaderID = binary.BigEndian.Uint16(buf2[:])
		remaining -= 2

		if needsProxyType(m.DataType, m.HeaderType) {
			if _, err := io.ReadFull(r.r, buf2[:]); err != nil {
				return nil, errors.NewFrameError("recv header_proxy_type", err)
			}
			m.HeaderProxyType = binary.BigEndian.Uint16(buf2[:])
			remaining -= 2
		}
	}

	// Forward-compatibility: skip any trailing header bytes this reader
	// doesn't know about (§3, §4.1, §8 scenario S6).
	if remaining > 0 {
		if _, err := io.CopyN(io.Discard, r.r, int64(remaining)); err != nil {
			return nil, errors.NewFrameError("recv header padding", err)
		}
	}

	m.Data = make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := io.ReadFull(r.r, m.Data); err != nil {
			return nil, errors.NewFrameError("recv data", err)
		}
	}

	return m, nil
}
