package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeAllEmptyInput(t *testing.T) {
	msgs, rem, msgErrs, fatal := DecodeAll(nil)

	if len(msgs) != 0 || len(rem) != 0 || len(msgErrs) != 0 || fatal != nil {
		t.Fatalf("DecodeAll(nil) = (%v, %v, %v, %v), want all empty", msgs, rem, msgErrs, fatal)
	}
}

func TestDecodeAllSingleMessage(t *testing.T) {
	want := Notification{Method: "redraw", Params: []Value{Str("x")}}

	msgs, rem, msgErrs, fatal := DecodeAll(mustEncode(t, want))

	if fatal != nil {
		t.Fatalf("fatal error: %v", fatal)
	}
	if len(msgErrs) != 0 {
		t.Fatalf("message errors: %v", msgErrs)
	}
	if len(rem) != 0 {
		t.Fatalf("remainder = %x, want empty", rem)
	}
	if len(msgs) != 1 || !reflect.DeepEqual(msgs[0], want) {
		t.Fatalf("messages = %#v, want [%#v]", msgs, want)
	}
}

func TestDecodeAllConcatenatedMessages(t *testing.T) {
	first := Notification{Method: "one", Params: []Value{Int(1)}}
	second := Notification{Method: "two", Params: []Value{Int(2)}}
	buf := append(mustEncode(t, first), mustEncode(t, second)...)

	msgs, rem, msgErrs, fatal := DecodeAll(buf)

	if fatal != nil || len(msgErrs) != 0 {
		t.Fatalf("errors: fatal=%v msgErrs=%v", fatal, msgErrs)
	}
	if len(rem) != 0 {
		t.Fatalf("remainder = %x, want empty", rem)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !reflect.DeepEqual(msgs[0], first) || !reflect.DeepEqual(msgs[1], second) {
		t.Fatalf("messages out of order or mangled: %#v", msgs)
	}
}

func TestDecodeAllTruncatedTrailingMessage(t *testing.T) {
	first := Response{ID: 5, Error: Nil{}, Result: Str("ok")}
	second := mustEncode(t, Notification{Method: "progress", Params: []Value{Str("50%")}})
	truncated := second[:len(second)-3]
	buf := append(mustEncode(t, first), truncated...)

	msgs, rem, msgErrs, fatal := DecodeAll(buf)

	if fatal != nil || len(msgErrs) != 0 {
		t.Fatalf("errors: fatal=%v msgErrs=%v", fatal, msgErrs)
	}
	if len(msgs) != 1 || !reflect.DeepEqual(msgs[0], Message(first)) {
		t.Fatalf("messages = %#v, want just the first", msgs)
	}
	if !bytes.Equal(rem, truncated) {
		t.Fatalf("remainder = %x, want the truncated bytes %x", rem, truncated)
	}
}

func TestDecodeAllCorruptPrefixIsFatal(t *testing.T) {
	// 0xc1 is the one reserved code in the format.
	buf := append(mustEncode(t, Notification{Method: "ok", Params: []Value{}}), 0xc1, 0x00)

	msgs, _, _, fatal := DecodeAll(buf)

	if len(msgs) != 1 {
		t.Fatalf("got %d messages before corruption, want 1", len(msgs))
	}
	var corrupt *CorruptStreamError
	if !errors.As(fatal, &corrupt) {
		t.Fatalf("fatal = %v, want CorruptStreamError", fatal)
	}
	if errors.Is(fatal, ErrShortBuffer) {
		t.Fatalf("corruption must not be classified as a short buffer")
	}
}

func TestDecodeAllSkipsInvalidMessageAndContinues(t *testing.T) {
	// A complete value that is not a message array is consumed, reported,
	// and the frame after it still decodes.
	junk, err := EncodeValue(Str("not a message"))
	if err != nil {
		t.Fatalf("EncodeValue error: %v", err)
	}
	good := Notification{Method: "after", Params: []Value{}}
	buf := append(junk, mustEncode(t, good)...)

	msgs, rem, msgErrs, fatal := DecodeAll(buf)

	if fatal != nil {
		t.Fatalf("fatal error: %v", fatal)
	}
	if len(msgErrs) != 1 || !errors.Is(msgErrs[0], ErrNotAnArray) {
		t.Fatalf("message errors = %v, want one ErrNotAnArray", msgErrs)
	}
	if len(msgs) != 1 || !reflect.DeepEqual(msgs[0], Message(good)) {
		t.Fatalf("messages = %#v, want the trailing notification", msgs)
	}
	if len(rem) != 0 {
		t.Fatalf("remainder = %x, want empty", rem)
	}
}

func TestDecodeAllIncremental(t *testing.T) {
	// Feed a frame one byte at a time, the way a slow socket would. Every
	// prefix must classify as incomplete, and the full frame must decode.
	want := Request{ID: 77, Method: "nvim_eval", Params: []Value{Str("line('.')")}}
	frame := mustEncode(t, want)

	var acc []byte
	for i, b := range frame {
		acc = append(acc, b)

		msgs, rem, msgErrs, fatal := DecodeAll(acc)
		if fatal != nil {
			t.Fatalf("byte %d: fatal error: %v", i, fatal)
		}
		if len(msgErrs) != 0 {
			t.Fatalf("byte %d: message errors: %v", i, msgErrs)
		}
		if i < len(frame)-1 {
			if len(msgs) != 0 {
				t.Fatalf("byte %d: premature message %#v", i, msgs)
			}
			if !bytes.Equal(rem, acc) {
				t.Fatalf("byte %d: remainder = %x, want %x", i, rem, acc)
			}
			continue
		}
		if len(msgs) != 1 || !reflect.DeepEqual(msgs[0], Message(want)) {
			t.Fatalf("final byte: messages = %#v, want [%#v]", msgs, want)
		}
		if len(rem) != 0 {
			t.Fatalf("final byte: remainder = %x, want empty", rem)
		}
	}
}

func TestDecodeAllRemainderIsACopy(t *testing.T) {
	frame := mustEncode(t, Notification{Method: "n", Params: []Value{Str("abc")}})
	buf := append([]byte(nil), frame[:len(frame)-1]...)

	_, rem, _, _ := DecodeAll(buf)

	buf[0] ^= 0xff
	if rem[0] == buf[0] {
		t.Fatalf("remainder aliases the input buffer")
	}
}
