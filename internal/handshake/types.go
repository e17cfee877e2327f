package handshake

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a host and TCP port, used for both the proxy and the tunnel
// destination.
type Endpoint struct {
	Host string
	Port uint16
}

// ParseEndpoint splits "host:port". The port must be 1-65535.
func ParseEndpoint(s string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: invalid port: %w", s, err)
	}
	e := Endpoint{Host: host, Port: uint16(p)}
	if !e.Valid() {
		return Endpoint{}, fmt.Errorf("endpoint %q: empty host or zero port", s)
	}
	return e, nil
}

// Valid reports whether the host is non-empty and the port nonzero.
func (e Endpoint) Valid() bool {
	return e.Host != "" && e.Port != 0
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Credentials are an optional username and password. They only count as
// present when both halves are set.
type Credentials struct {
	Username string
	Password string
}

// Present reports whether both username and password are non-empty.
func (c Credentials) Present() bool {
	return c.Username != "" && c.Password != ""
}

// Variant selects the proxy protocol. The zero value is Socks5.
type Variant int

const (
	Socks5 Variant = iota
	Socks4
	HTTP
)

func (v Variant) String() string {
	switch v {
	case Socks5:
		return "socks5"
	case Socks4:
		return "socks4"
	case HTTP:
		return "http"
	default:
		return "variant(" + strconv.Itoa(int(v)) + ")"
	}
}

// ParseVariant accepts "socks5", "socks4" and "http", case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "socks5":
		return Socks5, nil
	case "socks4":
		return Socks4, nil
	case "http":
		return HTTP, nil
	default:
		return 0, fmt.Errorf("unknown proxy variant %q", s)
	}
}
