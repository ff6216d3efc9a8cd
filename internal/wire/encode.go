package wire

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeValue serializes a single value to MessagePack bytes.
func EncodeValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch t := v.(type) {
	case nil, Nil:
		return enc.EncodeNil()
	case Bool:
		return enc.EncodeBool(bool(t))
	case Int:
		return enc.EncodeInt(int64(t))
	case Float:
		return enc.EncodeFloat64(float64(t))
	case Str:
		return enc.EncodeString(string(t))
	case Bin:
		return enc.EncodeBytes(t)
	case Array:
		if err := enc.EncodeArrayLen(len(t)); err != nil {
			return err
		}
		for _, el := range t {
			if err := encodeValue(enc, el); err != nil {
				return err
			}
		}
		return nil
	case Map:
		if err := enc.EncodeMapLen(len(t)); err != nil {
			return err
		}
		for _, kv := range t {
			if err := encodeValue(enc, kv.Key); err != nil {
				return err
			}
			if err := encodeValue(enc, kv.Val); err != nil {
				return err
			}
		}
		return nil
	case Ext:
		if err := enc.EncodeExtHeader(t.Tag, len(t.Data)); err != nil {
			return err
		}
		_, err := enc.Writer().Write(t.Data)
		return err
	default:
		return fmt.Errorf("wire: cannot encode %T", v)
	}
}
