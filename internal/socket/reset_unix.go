//go:build unix

package socket

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isPeerReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.ENOTCONN)
}
