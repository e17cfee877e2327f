package dialer

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/burrow/internal/resolve"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	// SettleDelay is the pause before reading an HTTP CONNECT response.
	SettleDelay time.Duration
	KeepAlive   net.KeepAliveConfig
	// Resolver turns SOCKS destinations into IPv4. Defaults to
	// resolve.System{}.
	Resolver resolve.Resolver
	Log      *zap.Logger
}
