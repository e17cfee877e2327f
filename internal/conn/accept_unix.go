//go:build unix

package conn

import (
	"errors"

	"golang.org/x/sys/unix"
)

func outOfFiles(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}
