// Package frame implements the wire-level message codec (§3, §4.1): a single
// self-describing PDU type carried over an arbitrary byte-oriented stream,
// with a fixed 3-byte prefix and a variable, forward-extensible header.
package frame

// DataType is the outermost discriminator of a frame (§3 data_type).
type DataType uint8

const (
	Init DataType = iota
	Tty
	Winresize
	Proxy
	Connection
	Nop
	Error
	Unknown
)

func (t DataType) String() string {
	switch t {
	case Init:
		return "Init"
	case Tty:
		return "Tty"
	case Winresize:
		return "Winresize"
	case Proxy:
		return "Proxy"
	case Connection:
		return "Connection"
	case Nop:
		return "Nop"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// dataTypeFromWire maps an arbitrary wire byte to a DataType, defaulting to
// Unknown for anything the format doesn't (yet) define (§3).
func dataTypeFromWire(b uint8) DataType {
	if b > uint8(Error) {
		return Unknown
	}
	return DataType(b)
}

// ProxyHeaderType is header_type's interpretation when data_type == Proxy.
type ProxyHeaderType uint16

const (
	ProxyCreate ProxyHeaderType = iota
	ProxyDestroy
	ProxyReport
	ProxyUnknown
)

func proxyHeaderTypeFromWire(v uint16) ProxyHeaderType {
	if v > uint16(ProxyReport) {
		return ProxyUnknown
	}
	return ProxyHeaderType(v)
}

// ConnectionHeaderType is header_type's interpretation when data_type ==
// Connection.
type ConnectionHeaderType uint16

const (
	ConnectionCreate ConnectionHeaderType = iota
	ConnectionDestroy
	ConnectionData
	ConnectionDormant
	ConnectionActive
	ConnectionUnknown
)

func connectionHeaderTypeFromWire(v uint16) ConnectionHeaderType {
	if v > uint16(ConnectionActive) {
		return ConnectionUnknown
	}
	return ConnectionHeaderType(v)
}

// ProxyType is header_proxy_type (§3): the Proxy/Connection subfamily.
type ProxyType uint16

const (
	Static ProxyType = iota
	Dynamic
	Tun
	Tap
)

// needsProxyType reports whether a subheader with this header_type carries a
// trailing header_proxy_type field, per the Proxy/Connection rule in §4.1:
// ProxyCreate, ProxyReport, and ConnectionCreate all do.
func needsProxyType(dataType DataType, headerType uint16) bool {
	switch dataType {
	case Proxy:
		switch ProxyHeaderType(headerType) {
		case ProxyCreate, ProxyReport:
			return true
		}
	case Connection:
		if ConnectionHeaderType(headerType) == ConnectionCreate {
			return true
		}
	}
	return false
}

// hasSubheader reports whether data_type carries the header_type/origin/id
// triple at all (§3).
func hasSubheader(dataType DataType) bool {
	return dataType == Proxy || dataType == Connection
}

// Message is one fully-decoded frame (§3).
type Message struct {
	DataType DataType
	Data     []byte

	// Subheader fields, meaningful only when hasSubheader(DataType) is true.
	HeaderType      uint16
	HeaderOrigin    uint16
	HeaderID        uint16
	HeaderProxyType uint16
}

// New returns an empty Unknown message, ready for the builder methods below.
func New() *Message {
	return &Message{DataType: Unknown}
}

// WithDataType sets the frame's data_type and returns the message for
// chaining, mirroring the builder style the protocol's original
// implementation uses.
func (m *Message) WithDataType(t DataType) *Message {
	m.DataType = t
	return m
}

// WithData sets the frame's payload.
func (m *Message) WithData(data []byte) *Message {
	m.Data = data
	return m
}

// WithHeaderType sets header_type from a Proxy or Connection header-type enum
// value.
func (m *Message) WithHeaderType(v uint16) *Message {
	m.HeaderType = v
	return m
}

// WithHeaderID sets header_id (the flow id for Connection frames).
func (m *Message) WithHeaderID(id uint16) *Message {
	m.HeaderID = id
	return m
}

// WithHeaderProxyType sets header_proxy_type.
func (m *Message) WithHeaderProxyType(t ProxyType) *Message {
	m.HeaderProxyType = uint16(t)
	return m
}

// headerLen computes the header_len field per §4.1: 3 bytes fixed
// (data_type + data_len) plus 6 bytes for the Proxy/Connection subheader
// triple, plus 2 more when header_proxy_type is present.
func (m *Message) headerLen() uint16 {
	n := uint16(3)
	if hasSubheader(m.DataType) {
		n += 6
		if needsProxyType(m.DataType, m.HeaderType) {
			n += 2
		}
	}
	return n
}
