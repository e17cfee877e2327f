// Command burrow-echo is a TCP echo server that wraps every reply in a
// configurable prefix and suffix.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/config"
	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/echo"
	"github.com/die-net/burrow/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	def := config.Default().Echo

	var (
		configPath   = pflag.String("config", "", "YAML config file, written with defaults if missing. Empty uses built-in defaults.")
		listen       = pflag.String("listen", def.Listen, "Listen address")
		prefix       = pflag.String("prefix", def.Prefix, "Text written before every echoed chunk")
		suffix       = pflag.String("suffix", def.Suffix, "Text written after every echoed chunk")
		maxConns     = pflag.Int("max-conns", def.MaxConns, "Maximum concurrent clients. 0 is unlimited.")
		tcpKeepAlive = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		logLevel     = pflag.String("log-level", "", "Log level: debug|info|warn|error. Empty uses the config file.")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	f := config.Default()
	created := false
	if *configPath != "" {
		var err error
		if f, created, err = config.LoadOrCreate(*configPath); err != nil {
			return err
		}
	}

	e := &f.Echo
	set := pflag.CommandLine.Changed
	if set("listen") {
		e.Listen = *listen
	}
	if set("prefix") {
		e.Prefix = *prefix
	}
	if set("suffix") {
		e.Suffix = *suffix
	}
	if set("max-conns") {
		e.MaxConns = *maxConns
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
	if created {
		log.Info("wrote default config", zap.String("path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := conn.ListenTCP(ctx, "tcp", e.Listen, ka)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("echo listening", zap.String("addr", ln.Addr().String()))

	srv := &echo.Server{Prefix: e.Prefix, Suffix: e.Suffix, MaxConns: e.MaxConns, Log: log}
	err = srv.Serve(ctx, ln)
	log.Info("shutting down")
	return err
}
