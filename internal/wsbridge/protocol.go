package wsbridge

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/megalithic/shade-sub001/internal/logtee"
	"github.com/megalithic/shade-sub001/internal/rpc"
	"github.com/megalithic/shade-sub001/internal/wire"
)

// Envelope is the JSON frame sent to bridge clients. Type distinguishes the
// payload: "event" carries an editor notification or unsolicited request,
// "log" carries a mirrored application log record.
type Envelope struct {
	Type string `json:"type"`

	// Seq increments per connection so clients can detect gaps after a
	// reconnect.
	Seq uint64    `json:"seq"`
	TS  time.Time `json:"ts"`

	// Event fields.
	Kind   string `json:"kind,omitempty"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`

	// Log fields.
	Level string `json:"level,omitempty"`
	Msg   string `json:"msg,omitempty"`
}

// eventEnvelope converts an editor event to its JSON form. Wire values
// become plain JSON-friendly Go values; editor handles flatten to integers.
func eventEnvelope(ev rpc.Event) Envelope {
	params := make([]any, len(ev.Params))
	for i, p := range ev.Params {
		params[i] = wire.ToNative(p)
	}
	return Envelope{
		Type:   "event",
		TS:     time.Now(),
		Kind:   ev.Kind.String(),
		Method: ev.Method,
		Params: params,
	}
}

func logEnvelope(e logtee.Entry) Envelope {
	return Envelope{
		Type:  "log",
		TS:    e.Time,
		Level: e.Level.String(),
		Msg:   e.Msg,
	}
}

func marshalEnvelope(env Envelope) ([]byte, bool) {
	payload, err := json.Marshal(env)
	if err != nil {
		slog.Warn("[bridge] failed to marshal envelope", "type", env.Type, "error", err)
		return nil, false
	}
	return payload, true
}
