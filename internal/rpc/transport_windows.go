//go:build windows

package rpc

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// dialEndpoint connects to the editor's named pipe. On Windows the editor
// listens on a \\.\pipe\ path rather than a unix socket; the rest of the
// connection is byte-for-byte identical.
func dialEndpoint(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return winio.DialPipeContext(ctx, path)
}
