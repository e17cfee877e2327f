// Package dialer provides outbound dialers that reach their destination
// either directly or through a SOCKS4, SOCKS5 or HTTP CONNECT proxy.
//
// Proxy dialers open a fresh session per call, negotiate, and hand back the
// tunneled connection. They satisfy golang.org/x/net/proxy's Dialer and
// ContextDialer interfaces.
package dialer
