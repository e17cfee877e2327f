// Package conn holds the listener-side connection plumbing shared by the
// echo server and the port forwarder: keepalive listeners, a bounded
// accept loop with context shutdown, and bidirectional copy.
package conn
