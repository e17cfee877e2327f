//go:build !unix

package conn

func outOfFiles(_ error) bool {
	return false
}
