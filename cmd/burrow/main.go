// Command burrow negotiates a tunnel through a SOCKS4, SOCKS5 or HTTP CONNECT
// proxy. Without --listen it sends stdin lines through the tunnel and prints
// what comes back; with --listen it forwards local connections through their
// own tunnels.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/config"
	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/dialer"
	"github.com/die-net/burrow/internal/echo"
	"github.com/die-net/burrow/internal/forward"
	"github.com/die-net/burrow/internal/handshake"
	"github.com/die-net/burrow/internal/logger"
	"github.com/die-net/burrow/internal/resolve"
	"github.com/die-net/burrow/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	def := config.Default().Client

	var (
		configPath = pflag.String("config", "", "YAML config file, written with defaults if missing. Empty uses built-in defaults.")
		proxyURL   = pflag.String("proxy", def.Proxy, "Proxy URL: direct:// | http://[user:pass@]host:port | socks4://host:port | socks5://host:port. $ALL_PROXY overrides the config file.")
		dest       = pflag.String("dest", def.Dest, "Tunnel destination host:port")
		listen     = pflag.String("listen", "", "Forward connections accepted on this address (e.g. 127.0.0.1:8000) through the proxy instead of reading stdin")

		dnsServer          = pflag.String("dns-server", def.DNSServer, "Resolve SOCKS destinations against this DNS server instead of the system resolver")
		dialTimeout        = pflag.Duration("dial-timeout", def.DialTimeout, "Timeout for TCP connect to the proxy and DNS queries")
		negotiationTimeout = pflag.Duration("negotiation-timeout", def.NegotiationTimeout, "Timeout for the proxy handshake")
		settleDelay        = pflag.Duration("settle-delay", def.SettleDelay, "Pause before reading an HTTP CONNECT response. Negative disables.")
		cacheTTL           = pflag.Duration("cache-ttl", def.CacheTTL, "How long resolved destinations are cached. 0 disables.")
		maxConns           = pflag.Int("max-conns", def.MaxConns, "Maximum concurrent forwarded connections. 0 is unlimited.")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		logLevel           = pflag.String("log-level", "", "Log level: debug|info|warn|error. Empty uses the config file.")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	f, created, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	c := &f.Client
	if p := envUpstream(); p != "" {
		c.Proxy = p
	}
	set := pflag.CommandLine.Changed
	if set("proxy") {
		c.Proxy = *proxyURL
	}
	if set("dest") {
		c.Dest = *dest
	}
	if set("dns-server") {
		c.DNSServer = *dnsServer
	}
	if set("dial-timeout") {
		c.DialTimeout = *dialTimeout
	}
	if set("negotiation-timeout") {
		c.NegotiationTimeout = *negotiationTimeout
	}
	if set("settle-delay") {
		c.SettleDelay = *settleDelay
	}
	if set("cache-ttl") {
		c.CacheTTL = *cacheTTL
	}
	if set("max-conns") {
		c.MaxConns = *maxConns
	}
	if *logLevel != "" {
		f.Log.Level = *logLevel
	}

	ka, err := conn.ParseKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	log, closer, err := logger.New(f.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Sync()
		_ = closer.Close()
	}()
	logConfig(log, *configPath, created)

	r, err := newResolver(*c)
	if err != nil {
		return fmt.Errorf("invalid --dns-server: %w", err)
	}

	dialCfg := dialer.Config{
		DialTimeout:        c.DialTimeout,
		NegotiationTimeout: c.NegotiationTimeout,
		SettleDelay:        c.SettleDelay,
		KeepAlive:          ka,
		Resolver:           r,
		Log:                log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listen != "" {
		return runForward(ctx, dialCfg, *c, *listen, log)
	}
	return runInteractive(ctx, dialCfg, *c, log)
}

func runForward(ctx context.Context, cfg dialer.Config, c config.Client, listen string, log *zap.Logger) error {
	d, err := dialer.New(cfg, c.Proxy)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}
	if _, err := handshake.ParseEndpoint(c.Dest); err != nil {
		return fmt.Errorf("invalid --dest: %w", err)
	}

	ln, err := conn.ListenTCP(ctx, "tcp", listen, cfg.KeepAlive)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("forwarding",
		zap.String("listen", ln.Addr().String()),
		zap.String("proxy", c.Proxy),
		zap.String("dest", c.Dest))

	srv := &forward.Server{Dialer: d, Target: c.Dest, MaxConns: c.MaxConns, Log: log}
	err = srv.Serve(ctx, ln)
	log.Info("shutting down")
	return err
}

func runInteractive(ctx context.Context, cfg dialer.Config, c config.Client, log *zap.Logger) error {
	up, err := dialer.ParseUpstream(c.Proxy)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}
	dst, err := handshake.ParseEndpoint(c.Dest)
	if err != nil {
		return fmt.Errorf("invalid --dest: %w", err)
	}

	var t tunnel
	if up.Direct {
		nc, err := dialer.NewDirectDialer(cfg).DialContext(ctx, "tcp", dst.String())
		if err != nil {
			return err
		}
		defer nc.Close()
		t = connTunnel{nc}
	} else {
		s := session.New(session.Config{
			DialTimeout:        cfg.DialTimeout,
			NegotiationTimeout: cfg.NegotiationTimeout,
			SettleDelay:        cfg.SettleDelay,
			KeepAlive:          cfg.KeepAlive,
			Resolver:           cfg.Resolver,
			Log:                log,
		})
		defer s.Close()

		slog := log.With(zap.String("session", s.ID()), zap.Stringer("variant", up.Variant))
		if err := s.Open(ctx, up.Proxy, dst, up.Credentials); err != nil {
			slog.Warn("connect failed", zap.Stringer("proxy", up.Proxy), zap.Error(err))
			return err
		}
		if err := s.Negotiate(ctx, up.Variant); err != nil {
			slog.Warn("negotiation failed", zap.Stringer("reason", s.Outcome().Reason), zap.Error(err))
			return err
		}
		slog.Info("tunnel established", zap.Stringer("dest", dst), zap.String("detail", s.Outcome().Detail))
		t = s
	}

	errc := make(chan error, 1)
	go func() {
		errc <- interact(os.Stdin, os.Stdout, t)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}

// tunnel is the part of a negotiated session the interactive loop needs.
type tunnel interface {
	Send(b []byte) (int, error)
	Receive(b []byte) (int, error)
}

type connTunnel struct {
	net.Conn
}

func (c connTunnel) Send(b []byte) (int, error)    { return c.Write(b) }
func (c connTunnel) Receive(b []byte) (int, error) { return c.Read(b) }

// interact sends each input line through t and prints one reply per line.
// "quit" or an empty line ends the loop.
func interact(in io.Reader, out io.Writer, t tunnel) error {
	sc := bufio.NewScanner(in)
	buf := make([]byte, echo.BufferSize)
	for n := 1; ; n++ {
		fmt.Fprint(out, ">> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := sc.Text()
		if line == "" || line == "quit" {
			return nil
		}

		start := time.Now()
		if _, err := t.Send([]byte(line)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		m, err := t.Receive(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("receive: connection closed by peer")
			}
			return fmt.Errorf("receive: %w", err)
		}
		fmt.Fprintf(out, "handled request #%d in %s. Data: %s Size: %d\n", n, time.Since(start).Round(time.Microsecond), buf[:m], m)
	}
}

// loadConfig returns the built-in defaults when path is empty, otherwise the
// file at path, written with defaults first if it does not exist.
func loadConfig(path string) (*config.File, bool, error) {
	if path == "" {
		return config.Default(), false, nil
	}
	return config.LoadOrCreate(path)
}

func logConfig(log *zap.Logger, path string, created bool) {
	if created {
		log.Info("wrote default config", zap.String("path", path))
	}
}

func newResolver(c config.Client) (resolve.Resolver, error) {
	var r resolve.Resolver = resolve.System{}
	if c.DNSServer != "" {
		d, err := resolve.NewDNS(c.DNSServer, c.DialTimeout)
		if err != nil {
			return nil, err
		}
		r = d
	}
	if c.CacheTTL > 0 {
		r = resolve.NewCache(r, c.CacheTTL)
	}
	return r, nil
}

func envUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}
	return os.Getenv("all_proxy")
}
