package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Message kind tags, the first element of every frame.
const (
	typeRequest      = 0
	typeResponse     = 1
	typeNotification = 2
)

// Message is one framed RPC message: a Request, Response, or Notification.
type Message interface {
	message()
}

// Request asks the remote to invoke a named method. The id correlates the
// eventual Response; ids are unique among requests outstanding on one
// connection.
type Request struct {
	ID     uint32
	Method string
	Params []Value
}

// Response answers the Request with the matching ID. Exactly one of Error
// and Result is meaningful: a non-nil Error wins and Result is ignored.
// A wire nil decodes as Nil{}, so check Error with IsNil rather than == nil.
type Response struct {
	ID     uint32
	Error  Value
	Result Value
}

// Notification is a fire-and-forget method invocation with no response.
type Notification struct {
	Method string
	Params []Value
}

func (Request) message()      {}
func (Response) message()     {}
func (Notification) message() {}

// Structural decode failures. Each is message-local: the caller drops the
// offending frame and keeps the connection.
var (
	ErrNotAnArray            = errors.New("wire: message is not an array")
	ErrEmptyArray            = errors.New("wire: message array is empty")
	ErrMalformedRequest      = errors.New("wire: malformed request")
	ErrMalformedResponse     = errors.New("wire: malformed response")
	ErrMalformedNotification = errors.New("wire: malformed notification")
)

// InvalidMessageTypeError reports a leading type tag outside {0, 1, 2}.
// Tag is -1 when the first element was not an integer at all.
type InvalidMessageTypeError struct {
	Tag int64
}

func (e *InvalidMessageTypeError) Error() string {
	if e.Tag < 0 {
		return "wire: message type tag is not an integer"
	}
	return fmt.Sprintf("wire: invalid message type %d", e.Tag)
}

// EncodeMessage serializes m to one wire frame. It never fails for
// well-formed messages.
func EncodeMessage(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	var err error
	switch t := m.(type) {
	case Request:
		err = encodeRequest(enc, t)
	case Response:
		err = encodeResponse(enc, t)
	case Notification:
		err = encodeNotification(enc, t)
	default:
		return nil, fmt.Errorf("wire: cannot encode message %T", m)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeRequest(enc *msgpack.Encoder, r Request) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := enc.EncodeInt(typeRequest); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.ID)); err != nil {
		return err
	}
	if err := enc.EncodeString(r.Method); err != nil {
		return err
	}
	return encodeValue(enc, paramsArray(r.Params))
}

func encodeResponse(enc *msgpack.Encoder, r Response) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := enc.EncodeInt(typeResponse); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(r.ID)); err != nil {
		return err
	}
	if err := encodeValue(enc, r.Error); err != nil {
		return err
	}
	return encodeValue(enc, r.Result)
}

func encodeNotification(enc *msgpack.Encoder, n Notification) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeInt(typeNotification); err != nil {
		return err
	}
	if err := enc.EncodeString(n.Method); err != nil {
		return err
	}
	return encodeValue(enc, paramsArray(n.Params))
}

// paramsArray normalizes nil params to an empty array so the frame always
// carries the params slot.
func paramsArray(ps []Value) Array {
	if ps == nil {
		return Array{}
	}
	return Array(ps)
}

// DecodeMessage classifies one already-decoded top-level value as a Message.
// A structurally invalid value is rejected outright; there is no partial
// recovery.
func DecodeMessage(v Value) (Message, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, ErrNotAnArray
	}
	if len(arr) == 0 {
		return nil, ErrEmptyArray
	}
	tag, ok := AsInt(arr[0])
	if !ok {
		return nil, &InvalidMessageTypeError{Tag: -1}
	}
	switch tag {
	case typeRequest:
		return decodeRequest(arr)
	case typeResponse:
		return decodeResponse(arr)
	case typeNotification:
		return decodeNotification(arr)
	default:
		return nil, &InvalidMessageTypeError{Tag: tag}
	}
}

func decodeID(v Value, malformed error) (uint32, error) {
	id, ok := AsInt(v)
	if !ok || id < 0 || id > math.MaxUint32 {
		return 0, fmt.Errorf("%w: bad id", malformed)
	}
	return uint32(id), nil
}

func decodeRequest(arr Array) (Message, error) {
	if len(arr) != 4 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformedRequest, len(arr))
	}
	id, err := decodeID(arr[1], ErrMalformedRequest)
	if err != nil {
		return nil, err
	}
	method, ok := AsString(arr[2])
	if !ok {
		return nil, fmt.Errorf("%w: method is not a string", ErrMalformedRequest)
	}
	params, ok := arr[3].(Array)
	if !ok {
		return nil, fmt.Errorf("%w: params is not an array", ErrMalformedRequest)
	}
	return Request{ID: id, Method: method, Params: params}, nil
}

func decodeResponse(arr Array) (Message, error) {
	if len(arr) != 4 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformedResponse, len(arr))
	}
	id, err := decodeID(arr[1], ErrMalformedResponse)
	if err != nil {
		return nil, err
	}
	return Response{ID: id, Error: arr[2], Result: arr[3]}, nil
}

func decodeNotification(arr Array) (Message, error) {
	if len(arr) != 3 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformedNotification, len(arr))
	}
	method, ok := AsString(arr[1])
	if !ok {
		return nil, fmt.Errorf("%w: method is not a string", ErrMalformedNotification)
	}
	params, ok := arr[2].(Array)
	if !ok {
		return nil, fmt.Errorf("%w: params is not an array", ErrMalformedNotification)
	}
	return Notification{Method: method, Params: params}, nil
}
