//go:build !windows

package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// dialEndpoint connects to the editor's unix domain socket. A stale regular
// file at the path (left by a crashed editor, say) yields a clearer failure
// here than the refused dial it would otherwise produce.
func dialEndpoint(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err == nil && st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return nil, fmt.Errorf("%s exists but is not a socket", path)
	}
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "unix", path)
}
