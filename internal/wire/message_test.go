package wire

import (
	"errors"
	"reflect"
	"testing"
)

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()
	frame, err := EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage(%#v) error: %v", m, err)
	}
	return frame
}

func decodeFrame(t *testing.T, frame []byte) Message {
	t.Helper()
	v, n, err := DecodeValue(frame)
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("DecodeValue consumed %d of %d bytes", n, len(frame))
	}
	m, err := DecodeMessage(v)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	return m
}

func TestRequestRoundTrip(t *testing.T) {
	want := Request{ID: 42, Method: "eval", Params: []Value{Str("1+1")}}

	got := decodeFrame(t, mustEncode(t, want))

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip = %#v, want %#v", got, want)
	}
}

func TestMessageRoundTrips(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"request no params", Request{ID: 1, Method: "ping", Params: []Value{}}},
		{"request nested params", Request{ID: 7, Method: "set_lines", Params: []Value{
			Int(3),
			Array{Str("a"), Str("b")},
			Map{{Key: Int(1), Val: Bool(true)}, {Key: Str("k"), Val: Float(2.5)}},
			Bin{0x00, 0xff},
		}}},
		{"response ok", Response{ID: 9, Error: Nil{}, Result: Str("done")}},
		{"response error", Response{ID: 10, Error: Array{Int(0), Str("boom")}, Result: Nil{}}},
		{"response handle result", Response{ID: 11, Error: Nil{}, Result: Ext{Tag: 1, Data: []byte{0x05}}}},
		{"notification", Notification{Method: "redraw", Params: []Value{Array{Str("grid_line")}}}},
		{"negative ints", Request{ID: 2, Method: "m", Params: []Value{Int(-1), Int(-129), Int(-70000)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decodeFrame(t, mustEncode(t, tc.msg))
			if !reflect.DeepEqual(got, tc.msg) {
				t.Fatalf("round trip = %#v, want %#v", got, tc.msg)
			}
		})
	}
}

func TestDecodeMessageErrorKinds(t *testing.T) {
	cases := []struct {
		name  string
		value Value
		want  error
	}{
		{"not an array", Str("hello"), ErrNotAnArray},
		{"empty array", Array{}, ErrEmptyArray},
		{"request too short", Array{Int(0), Int(1), Str("eval")}, ErrMalformedRequest},
		{"request bad method", Array{Int(0), Int(1), Int(9), Array{}}, ErrMalformedRequest},
		{"request bad params", Array{Int(0), Int(1), Str("eval"), Str("nope")}, ErrMalformedRequest},
		{"request negative id", Array{Int(0), Int(-1), Str("eval"), Array{}}, ErrMalformedRequest},
		{"response too short", Array{Int(1), Int(1), Nil{}}, ErrMalformedResponse},
		{"notification too short", Array{Int(2), Str("redraw")}, ErrMalformedNotification},
		{"notification bad method", Array{Int(2), Int(3), Array{}}, ErrMalformedNotification},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(tc.value)
			if !errors.Is(err, tc.want) {
				t.Fatalf("DecodeMessage error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeMessageInvalidTypeTag(t *testing.T) {
	_, err := DecodeMessage(Array{Int(7), Int(1), Str("m"), Array{}})

	var bad *InvalidMessageTypeError
	if !errors.As(err, &bad) {
		t.Fatalf("DecodeMessage error = %v, want InvalidMessageTypeError", err)
	}
	if bad.Tag != 7 {
		t.Fatalf("InvalidMessageTypeError.Tag = %d, want 7", bad.Tag)
	}
}

func TestDecodeMessageNonIntegerTypeTag(t *testing.T) {
	_, err := DecodeMessage(Array{Str("0"), Int(1), Str("m"), Array{}})

	var bad *InvalidMessageTypeError
	if !errors.As(err, &bad) {
		t.Fatalf("DecodeMessage error = %v, want InvalidMessageTypeError", err)
	}
	if bad.Tag != -1 {
		t.Fatalf("InvalidMessageTypeError.Tag = %d, want -1", bad.Tag)
	}
}

func TestEncodeMessageNilParams(t *testing.T) {
	// nil params must still put an (empty) params slot on the wire.
	got := decodeFrame(t, mustEncode(t, Notification{Method: "noop"}))

	n, ok := got.(Notification)
	if !ok {
		t.Fatalf("decoded %T, want Notification", got)
	}
	if n.Params == nil || len(n.Params) != 0 {
		t.Fatalf("Params = %#v, want empty array", n.Params)
	}
}

func TestEncodeMessageNilResponseError(t *testing.T) {
	// A Response built with a nil Error interface encodes as wire nil.
	got := decodeFrame(t, mustEncode(t, Response{ID: 3, Result: Str("ok")}))

	r, ok := got.(Response)
	if !ok {
		t.Fatalf("decoded %T, want Response", got)
	}
	if !IsNil(r.Error) {
		t.Fatalf("Error = %#v, want nil", r.Error)
	}
}
