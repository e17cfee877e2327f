package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// Socks5Version is the VER field of every SOCKS5 message.
	Socks5Version = txsocks5.Ver

	// MethodNoAuth selects "no authentication required".
	MethodNoAuth = txsocks5.MethodNone
	// MethodUserPass selects RFC 1929 username/password authentication.
	MethodUserPass = txsocks5.MethodUsernamePassword
	// MethodNoAcceptable is the server's "no acceptable methods" answer.
	MethodNoAcceptable = txsocks5.MethodUnsupportAll

	// Socks5CmdConnect is the CONNECT command.
	Socks5CmdConnect = txsocks5.CmdConnect

	// AtypIPv4, AtypDomain and AtypIPv6 are the SOCKS5 address types.
	AtypIPv4   = txsocks5.ATYPIPv4
	AtypDomain = txsocks5.ATYPDomain
	AtypIPv6   = txsocks5.ATYPIPv6

	// Socks5GreetingLen is the exact size of the greeting we send.
	Socks5GreetingLen = 4
	// Socks5GreetingReplyLen is the size of the method selection reply.
	Socks5GreetingReplyLen = 2
	// Socks5ConnectLen is the exact size of an IPv4 CONNECT request.
	Socks5ConnectLen = 10
	// Socks5ReplyHeaderLen covers VER, REP, RSV and ATYP.
	Socks5ReplyHeaderLen = 4
)

var (
	// ErrShortFrame is returned when a message is shorter than its fixed layout.
	ErrShortFrame = errors.New("short frame")
	// ErrVersion is returned when a version field holds an unexpected value.
	ErrVersion = errors.New("unexpected protocol version")
	// ErrUnknownReply is returned for reply codes outside the defined set.
	ErrUnknownReply = errors.New("unknown reply code")
	// ErrAddressType is returned for an unknown SOCKS5 ATYP value.
	ErrAddressType = errors.New("unknown address type")
	// ErrNotIPv4 is returned when an encoder is handed a non-IPv4 address.
	ErrNotIPv4 = errors.New("address is not ipv4")
)

// Socks5Reply is the REP field of a SOCKS5 CONNECT reply.
type Socks5Reply byte

const (
	Socks5Succeeded               = Socks5Reply(txsocks5.RepSuccess)
	Socks5GeneralFailure          = Socks5Reply(txsocks5.RepServerFailure)
	Socks5NotAllowed              = Socks5Reply(txsocks5.RepNotAllowed)
	Socks5NetworkUnreachable      = Socks5Reply(txsocks5.RepNetworkUnreachable)
	Socks5HostUnreachable         = Socks5Reply(txsocks5.RepHostUnreachable)
	Socks5ConnectionRefused       = Socks5Reply(txsocks5.RepConnectionRefused)
	Socks5TTLExpired              = Socks5Reply(txsocks5.RepTTLExpired)
	Socks5CommandNotSupported     = Socks5Reply(txsocks5.RepCommandNotSupported)
	Socks5AddressTypeNotSupported = Socks5Reply(txsocks5.RepAddressNotSupported)
)

var socks5ReplyText = map[Socks5Reply]string{
	Socks5Succeeded:               "succeeded",
	Socks5GeneralFailure:          "general failure",
	Socks5NotAllowed:              "connection not allowed by ruleset",
	Socks5NetworkUnreachable:      "network unreachable",
	Socks5HostUnreachable:         "host unreachable",
	Socks5ConnectionRefused:       "connection refused",
	Socks5TTLExpired:              "ttl expired",
	Socks5CommandNotSupported:     "command not supported",
	Socks5AddressTypeNotSupported: "address type not supported",
}

func (r Socks5Reply) String() string {
	if s, ok := socks5ReplyText[r]; ok {
		return s
	}
	return fmt.Sprintf("reply 0x%02x", byte(r))
}

// Known reports whether r is one of the RFC 1928 reply codes.
func (r Socks5Reply) Known() bool {
	_, ok := socks5ReplyText[r]
	return ok
}

// EncodeSocks5Greeting returns the method selection message. It always offers
// both no-auth and username/password, whether or not credentials are set.
//
//	+-----+----------+---------+---------+
//	| VER | NMETHODS | METHOD0 | METHOD1 |
//	+-----+----------+---------+---------+
//	|  1  |    1     |    1    |    1    |
//	+-----+----------+---------+---------+
func EncodeSocks5Greeting() []byte {
	return []byte{Socks5Version, 2, MethodNoAuth, MethodUserPass}
}

// DecodeSocks5Greeting returns the method chosen by the server.
func DecodeSocks5Greeting(b []byte) (byte, error) {
	if len(b) < Socks5GreetingReplyLen {
		return 0, fmt.Errorf("socks5 greeting reply: %w: %d bytes", ErrShortFrame, len(b))
	}
	if b[0] != Socks5Version {
		return 0, fmt.Errorf("socks5 greeting reply: %w: 0x%02x", ErrVersion, b[0])
	}
	return b[1], nil
}

// EncodeSocks5Connect returns an IPv4 CONNECT request.
//
//	+-----+-----+-------+------+----------+----------+
//	| VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
//	+-----+-----+-------+------+----------+----------+
//	|  1  |  1  | X'00' |  1   |    4     |    2     |
//	+-----+-----+-------+------+----------+----------+
func EncodeSocks5Connect(addr netip.Addr, port uint16) ([]byte, error) {
	if !addr.Is4() {
		return nil, fmt.Errorf("socks5 connect: %w: %s", ErrNotIPv4, addr)
	}
	b := make([]byte, Socks5ConnectLen)
	b[0] = Socks5Version
	b[1] = Socks5CmdConnect
	b[2] = 0x00
	b[3] = AtypIPv4
	a4 := addr.As4()
	copy(b[4:8], a4[:])
	binary.BigEndian.PutUint16(b[8:10], port)
	return b, nil
}

// Socks5ReplyHeader is the fixed part of a CONNECT reply.
type Socks5ReplyHeader struct {
	Reply Socks5Reply
	Atyp  byte
}

// DecodeSocks5ReplyHeader decodes VER, REP, RSV and ATYP. A reply code
// outside 0x00-0x08 is a decode error rather than a rejection.
func DecodeSocks5ReplyHeader(b []byte) (Socks5ReplyHeader, error) {
	if len(b) < Socks5ReplyHeaderLen {
		return Socks5ReplyHeader{}, fmt.Errorf("socks5 reply: %w: %d bytes", ErrShortFrame, len(b))
	}
	if b[0] != Socks5Version {
		return Socks5ReplyHeader{}, fmt.Errorf("socks5 reply: %w: 0x%02x", ErrVersion, b[0])
	}
	rep := Socks5Reply(b[1])
	if !rep.Known() {
		return Socks5ReplyHeader{}, fmt.Errorf("socks5 reply: %w: 0x%02x", ErrUnknownReply, b[1])
	}
	return Socks5ReplyHeader{Reply: rep, Atyp: b[3]}, nil
}

// Socks5BoundAddrLen returns the number of BND.ADDR bytes that follow the
// reply header for atyp. For AtypDomain the length is carried in the next
// byte, so it returns 0 and the caller reads that byte first.
func Socks5BoundAddrLen(atyp byte) (int, error) {
	switch atyp {
	case AtypIPv4:
		return 4, nil
	case AtypIPv6:
		return 16, nil
	case AtypDomain:
		return 0, nil
	default:
		return 0, fmt.Errorf("socks5 reply: %w: 0x%02x", ErrAddressType, atyp)
	}
}

// DecodeSocks5BoundAddr formats BND.ADDR and BND.PORT as host:port.
func DecodeSocks5BoundAddr(atyp byte, addr, port []byte) (string, error) {
	if len(port) < 2 {
		return "", fmt.Errorf("socks5 bound port: %w", ErrShortFrame)
	}
	p := binary.BigEndian.Uint16(port)
	var host string
	switch atyp {
	case AtypIPv4, AtypIPv6:
		ip, ok := netip.AddrFromSlice(addr)
		if !ok {
			return "", fmt.Errorf("socks5 bound addr: %w: %d bytes", ErrShortFrame, len(addr))
		}
		host = ip.String()
	case AtypDomain:
		host = string(addr)
	default:
		return "", fmt.Errorf("socks5 bound addr: %w: 0x%02x", ErrAddressType, atyp)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(p))), nil
}
