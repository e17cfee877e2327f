package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

const (
	// Socks4Version is the VN field of a SOCKS4 request.
	Socks4Version = 0x04
	// Socks4ReplyVersion is the VN field classic SOCKS4 servers put in replies.
	Socks4ReplyVersion = 0x00
	// Socks4CmdConnect is the CONNECT command.
	Socks4CmdConnect = 0x01

	// Socks4ReplyLen is the size of a SOCKS4 reply.
	Socks4ReplyLen = 8
)

// Socks4Reply is the CD field of a SOCKS4 reply.
type Socks4Reply byte

const (
	Socks4Granted          Socks4Reply = 90
	Socks4Rejected         Socks4Reply = 91
	Socks4IdentUnreachable Socks4Reply = 92
	Socks4IdentMismatch    Socks4Reply = 93
)

func (r Socks4Reply) String() string {
	switch r {
	case Socks4Granted:
		return "request granted"
	case Socks4Rejected:
		return "request rejected or failed"
	case Socks4IdentUnreachable:
		return "identd unreachable"
	case Socks4IdentMismatch:
		return "identd user-id mismatch"
	default:
		return fmt.Sprintf("reply %d", byte(r))
	}
}

// EncodeSocks4Connect returns a CONNECT request with an empty USERID.
//
//	+----+----+----------+----------+--------+------+
//	| VN | CD | DST.PORT | DST.ADDR | USERID | NULL |
//	+----+----+----------+----------+--------+------+
//	| 1  | 1  |    2     |    4     |   0    |  1   |
//	+----+----+----------+----------+--------+------+
func EncodeSocks4Connect(addr netip.Addr, port uint16) ([]byte, error) {
	if !addr.Is4() {
		return nil, fmt.Errorf("socks4 connect: %w: %s", ErrNotIPv4, addr)
	}
	b := make([]byte, 9)
	b[0] = Socks4Version
	b[1] = Socks4CmdConnect
	binary.BigEndian.PutUint16(b[2:4], port)
	a4 := addr.As4()
	copy(b[4:8], a4[:])
	b[8] = 0x00
	return b, nil
}

// DecodeSocks4Reply returns the CD field of a reply. VN may be 0 or 4; CD
// must be one of 90-93.
func DecodeSocks4Reply(b []byte) (Socks4Reply, error) {
	if len(b) < Socks4ReplyLen {
		return 0, fmt.Errorf("socks4 reply: %w: %d bytes", ErrShortFrame, len(b))
	}
	if b[0] != Socks4ReplyVersion && b[0] != Socks4Version {
		return 0, fmt.Errorf("socks4 reply: %w: 0x%02x", ErrVersion, b[0])
	}
	rep := Socks4Reply(b[1])
	switch rep {
	case Socks4Granted, Socks4Rejected, Socks4IdentUnreachable, Socks4IdentMismatch:
		return rep, nil
	default:
		return 0, fmt.Errorf("socks4 reply: %w: %d", ErrUnknownReply, b[1])
	}
}
