package rpc

import (
	"errors"
	"fmt"

	"github.com/megalithic/shade-sub001/internal/wire"
)

var (
	// ErrClosed reports an operation on a connection that has been closed,
	// or that was torn down while the operation was in flight.
	ErrClosed = errors.New("rpc: connection closed")

	// ErrTimeout reports a request whose deadline elapsed before its
	// response arrived. The pending entry is removed; a response that
	// arrives later is dropped, not delivered.
	ErrTimeout = errors.New("rpc: request timed out")
)

// RemoteError carries the error payload the editor returned for a request.
// It is an expected, remote-reported failure, not a local protocol bug, and
// only ever affects the one request that triggered it.
type RemoteError struct {
	Method  string
	Payload wire.Value
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s: remote error: %s", e.Method, renderErrorPayload(e.Payload))
}

// renderErrorPayload flattens the editor's usual [type, message] error shape;
// anything else gets a generic rendering.
func renderErrorPayload(v wire.Value) string {
	if arr, ok := wire.AsArray(v); ok && len(arr) == 2 {
		if msg, ok := wire.AsString(arr[1]); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", wire.ToNative(v))
}
