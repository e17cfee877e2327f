package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

type closeWriter interface {
	CloseWrite() error
}

// CopyBidirectional relays bytes between left and right until both
// directions have ended or ctx is done. When one side finishes sending, the
// other side's write half is shut down if it supports CloseWrite, and fully
// closed otherwise. Both connections are closed on return.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	g.Go(func() error {
		return halfCopy(left, right, closeBoth)
	})
	g.Go(func() error {
		return halfCopy(right, left, closeBoth)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func halfCopy(dst, src net.Conn, closeBoth func()) error {
	buf := copyBuffers.Get()
	_, err := io.CopyBuffer(dst, src, buf)
	copyBuffers.Put(buf)
	if cw, ok := dst.(closeWriter); ok {
		_ = cw.CloseWrite()
	} else {
		closeBoth()
	}
	// Closed by us: either the other direction gave up or ctx is done.
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
