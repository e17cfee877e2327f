package conn

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Handler serves one accepted connection. Serve closes c after Handler
// returns.
type Handler func(ctx context.Context, c net.Conn) error

// Server runs a Handler for every connection accepted on a listener.
type Server struct {
	// MaxConns bounds concurrently served connections. Accept waits for a
	// free slot. Zero means unbounded.
	MaxConns int
	Handler  Handler
	Log      *zap.Logger
}

// Serve accepts on ln until ctx is done or ln fails. When ctx is done the
// listener and every live connection are closed, and Serve returns nil once
// all handlers have finished. A permanent Accept error closes them the same
// way and is returned. Timeouts and descriptor exhaustion are retried with
// backoff. Handler errors are logged, not returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	var sem *semaphore.Weighted
	if s.MaxConns > 0 {
		sem = semaphore.NewWeighted(int64(s.MaxConns))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var g errgroup.Group
	err := s.acceptLoop(ctx, ln, sem, &g, log)
	if err != nil {
		// Close live connections too, or Wait blocks until every client leaves.
		cancel()
	}
	_ = g.Wait()
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, sem *semaphore.Weighted, g *errgroup.Group, log *zap.Logger) error {
	var backoff time.Duration
	for {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		c, err := ln.Accept()
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) || outOfFiles(err) {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				log.Warn("accept failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return err
		}
		backoff = 0

		g.Go(func() error {
			if sem != nil {
				defer sem.Release(1)
			}
			defer c.Close()
			unblock := context.AfterFunc(ctx, func() { _ = c.Close() })
			defer unblock()

			if err := s.Handler(ctx, c); err != nil && ctx.Err() == nil {
				log.Debug("connection ended with error", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
			}
			return nil
		})
	}
}
