// Package wire encodes and decodes the fixed-layout messages exchanged with
// SOCKS4, SOCKS5, and HTTP CONNECT proxies.
//
// Everything here is a pure function over byte slices or strings. Socket I/O
// and the decision of what to do with a decoded reply live in
// internal/handshake. Multi-byte fields are packed explicitly in network
// (big-endian) order.
package wire
