package testutil

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
)

// StartEchoTCPServer echoes everything each accepted connection sends until
// the peer closes.
func StartEchoTCPServer(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	ln, _ := StartServer(t, ctx, func(c net.Conn) {
		_, _ = io.Copy(c, c)
	})
	return ln
}

// AssertEcho writes msg to w and expects want (msg when nil) back from r.
func AssertEcho(t *testing.T, w io.Writer, r io.Reader, msg, want []byte) {
	t.Helper()

	if want == nil {
		want = msg
	}
	if _, err := w.Write(msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("expected %q got %q", string(want), string(buf))
	}
}
