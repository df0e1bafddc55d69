// Package socks4 implements the server side of a SOCKS4 CONNECT exchange
// (§4.6), the inverse of the teacher's client-side
// transport.connectViaSOCKS4Proxy, and bit-exact on the original broker's
// proxy_handler for field order.
package socks4

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/oddwire/revsh-control/pkg/constants"
	"github.com/oddwire/revsh-control/pkg/errors"
)

// ConnectRequest is a parsed SOCKS4 CONNECT request.
type ConnectRequest struct {
	DstIP   net.IP
	DstPort uint16
}

// Addr renders the request's destination as a host:port string.
func (r *ConnectRequest) Addr() string {
	return fmt.Sprintf("%s:%d", r.DstIP.String(), r.DstPort)
}

// ReadConnectRequest parses a SOCKS4 CONNECT request from r: VER(1) CMD(1)
// DSTPORT(2) DSTIP(4) USERID(var) NULL(1). Only the CONNECT command (0x01)
// is supported; the user-id field's contents are discarded, matching the
// original tool which reads exactly one trailing byte and assumes an empty
// user id.
func ReadConnectRequest(r io.Reader) (*ConnectRequest, error) {
	var b [1]byte

	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, errors.NewFrameError("socks4 read version", err)
	}
	if b[0] != constants.Socks4Version {
		return nil, errors.NewHandshakeError("socks4", fmt.Sprintf("unsupported SOCKS version 0x%02X", b[0]), nil)
	}

	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, errors.NewFrameError("socks4 read command", err)
	}
	if b[0] != constants.Socks4CommandConnect {
		return nil, errors.NewHandshakeError("socks4", fmt.Sprintf("unsupported SOCKS4 command 0x%02X", b[0]), nil)
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return nil, errors.NewFrameError("socks4 read dst_port", err)
	}
	dstPort := binary.BigEndian.Uint16(portBuf[:])

	var ipBuf [4]byte
	if _, err := io.ReadFull(r, ipBuf[:]); err != nil {
		return nil, errors.NewFrameError("socks4 read dst_ip", err)
	}
	dstIP := net.IPv4(ipBuf[0], ipBuf[1], ipBuf[2], ipBuf[3])

	// User-id/null terminator; the original tool reads a single trailing
	// byte here and never inspects the user-id itself.
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, errors.NewFrameError("socks4 read terminator", err)
	}

	return &ConnectRequest{DstIP: dstIP, DstPort: dstPort}, nil
}

// WriteGrantedReply writes the 8-byte SOCKS4 "request granted" reply:
// VER(0)=0, REP=0x5A, DSTPORT, DSTIP, echoing the request's own fields back
// as the original tool does.
func WriteGrantedReply(w io.Writer, req *ConnectRequest) error {
	reply := make([]byte, 8)
	reply[0] = 0x00
	reply[1] = constants.Socks4ReplyGranted
	binary.BigEndian.PutUint16(reply[2:4], req.DstPort)
	ip4 := req.DstIP.To4()
	if ip4 == nil {
		return errors.NewHandshakeError("socks4", "destination address is not IPv4", nil)
	}
	copy(reply[4:8], ip4)

	if _, err := w.Write(reply); err != nil {
		return errors.NewFrameError("socks4 write reply", err)
	}
	return nil
}
