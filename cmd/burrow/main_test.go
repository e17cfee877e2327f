package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/die-net/burrow/internal/config"
	"github.com/die-net/burrow/internal/resolve"
)

// bracketTunnel replies to every Send with the payload wrapped in brackets.
type bracketTunnel struct {
	pending []byte
	sent    []string
	closed  bool
}

func (b *bracketTunnel) Send(p []byte) (int, error) {
	b.sent = append(b.sent, string(p))
	b.pending = append([]byte("["), append(p, ']')...)
	return len(p), nil
}

func (b *bracketTunnel) Receive(p []byte) (int, error) {
	if b.closed {
		return 0, io.EOF
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func TestInteract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantSent []string
	}{
		{name: "quit", in: "hello\nworld\nquit\nignored\n", wantSent: []string{"hello", "world"}},
		{name: "empty line", in: "hello\n\nignored\n", wantSent: []string{"hello"}},
		{name: "eof", in: "one", wantSent: []string{"one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tun := &bracketTunnel{}
			var out bytes.Buffer
			if err := interact(strings.NewReader(tt.in), &out, tun); err != nil {
				t.Fatal(err)
			}
			if strings.Join(tun.sent, ",") != strings.Join(tt.wantSent, ",") {
				t.Fatalf("sent %q, want %q", tun.sent, tt.wantSent)
			}
			for i, s := range tt.wantSent {
				want := "Data: [" + s + "] Size: " + strconv.Itoa(len(s)+2)
				if !strings.Contains(out.String(), want) {
					t.Fatalf("output missing %q:\n%s", want, out.String())
				}
				if !strings.Contains(out.String(), "handled request #"+strconv.Itoa(i+1)+" ") {
					t.Fatalf("output missing request #%d:\n%s", i+1, out.String())
				}
			}
		})
	}
}

func TestInteractPeerClosed(t *testing.T) {
	t.Parallel()

	tun := &bracketTunnel{closed: true}
	err := interact(strings.NewReader("hello\n"), io.Discard, tun)
	if err == nil || !strings.Contains(err.Error(), "closed by peer") {
		t.Fatalf("expected peer closed error, got %v", err)
	}
}

type failingTunnel struct{}

var errBroken = errors.New("broken pipe")

func (failingTunnel) Send([]byte) (int, error)    { return 0, errBroken }
func (failingTunnel) Receive([]byte) (int, error) { return 0, nil }

func TestInteractSendError(t *testing.T) {
	t.Parallel()

	err := interact(strings.NewReader("hello\n"), io.Discard, failingTunnel{})
	if !errors.Is(err, errBroken) {
		t.Fatalf("expected %v, got %v", errBroken, err)
	}
}

func TestNewResolver(t *testing.T) {
	t.Parallel()

	c := config.Default().Client

	c.CacheTTL = 0
	r, err := newResolver(c)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(resolve.System); !ok {
		t.Fatalf("expected system resolver, got %T", r)
	}

	c.DNSServer = "127.0.0.1"
	r, err = newResolver(c)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := r.(*resolve.DNS)
	if !ok {
		t.Fatalf("expected dns resolver, got %T", r)
	}
	if d.Server() != "127.0.0.1:53" {
		t.Fatalf("unexpected server %q", d.Server())
	}

	c.CacheTTL = time.Minute
	r, err = newResolver(c)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*resolve.Cache); !ok {
		t.Fatalf("expected cache, got %T", r)
	}
}

func TestEnvUpstream(t *testing.T) {
	t.Setenv("ALL_PROXY", "")
	t.Setenv("all_proxy", "")
	if got := envUpstream(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}

	t.Setenv("all_proxy", "socks4://lower:1080")
	if got := envUpstream(); got != "socks4://lower:1080" {
		t.Fatalf("got %q", got)
	}

	t.Setenv("ALL_PROXY", "socks5://upper:1080")
	if got := envUpstream(); got != "socks5://upper:1080" {
		t.Fatalf("got %q", got)
	}
}

func TestLoadConfigReportsCreatedFile(t *testing.T) {
	t.Parallel()

	f, created, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if created || !reflect.DeepEqual(f, config.Default()) {
		t.Fatalf("expected built-in defaults, got created=%v %+v", created, f)
	}

	path := filepath.Join(t.TempDir(), "burrow.yaml")
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	_, created, err = loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected the config file to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	logConfig(log, path, created)

	_, created, err = loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected the existing config file to be loaded")
	}
	logConfig(log, path, created)

	entries := logs.FilterMessage("wrote default config").All()
	if len(entries) != 1 {
		t.Fatalf("expected one creation entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["path"]; got != path {
		t.Fatalf("logged path %v, want %q", got, path)
	}
}
