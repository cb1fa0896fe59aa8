//go:build !unix

package comm

import (
	"syscall"
)

const sockoptControl = false

// controlFunc is a no-op here; configureConn sizes the buffers after connect.
func controlFunc(options) func(network, address string, c syscall.RawConn) error {
	return nil
}
