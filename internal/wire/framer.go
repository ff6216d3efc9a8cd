package wire

import "errors"

// DecodeAll splits buf into every complete message it holds.
//
// It returns the decoded messages in order, the unconsumed trailing bytes of
// a partially-arrived frame (to be prepended to the next read), and the
// per-message decode errors for frames that were complete MessagePack values
// but not valid messages. Those errors are message-local: the bytes were
// consumed and the scan continued.
//
// A non-nil fatal error means the bytes are not a valid MessagePack prefix
// at all. That is distinct from an incomplete frame on purpose: a slow read
// must never be mistaken for corruption, and corruption cannot be cured by
// waiting for more bytes.
//
// Empty input yields an empty result. The remainder is a copy, so the caller
// may reuse or grow buf freely.
func DecodeAll(buf []byte) (msgs []Message, remainder []byte, msgErrs []error, fatal error) {
	rest := buf
	for len(rest) > 0 {
		v, n, err := DecodeValue(rest)
		if err != nil {
			if errors.Is(err, ErrShortBuffer) {
				return msgs, append([]byte(nil), rest...), msgErrs, nil
			}
			return msgs, nil, msgErrs, err
		}
		m, merr := DecodeMessage(v)
		if merr != nil {
			msgErrs = append(msgErrs, merr)
		} else {
			msgs = append(msgs, m)
		}
		rest = rest[n:]
	}
	return msgs, nil, msgErrs, nil
}
