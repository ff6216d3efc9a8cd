// Package wire implements the MessagePack-RPC message layer used to talk to
// the editor process.
//
// # Wire format
//
// Every frame on the stream is one top-level MessagePack array whose first
// element identifies the message kind:
//
//	[0, id:uint, method:string, params:array]   Request
//	[1, id:uint, error:value|nil, result:value] Response
//	[2, method:string, params:array]            Notification
//
// A Response answers the Request carrying the same id; a non-nil error field
// wins over the result field. Notifications flow in both directions and are
// never answered.
//
// The package contains no I/O. EncodeMessage and DecodeMessage translate
// between Message values and bytes; DecodeAll splits an accumulating read
// buffer into complete messages plus a trailing remainder; HandleID
// normalizes the editor's two encodings of buffer/window/tabpage handles.
package wire
