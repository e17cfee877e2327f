//go:build !unix

package socket

func isPeerReset(_ error) bool {
	return false
}
