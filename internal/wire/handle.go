package wire

// Extension tags the editor assigns to resource handles.
const (
	ExtBuffer  int8 = 0
	ExtWindow  int8 = 1
	ExtTabpage int8 = 2
)

// HandleID normalizes a resource handle to its integer id.
//
// The editor has encoded handles two ways across its own releases: as a bare
// integer, or as an extension value tagged 0..2 whose payload is either a
// single raw byte or a nested MessagePack-encoded integer. Both forms
// resolve to the same id here, so callers never care which is in play.
// Values that are not handles return false.
func HandleID(v Value) (int64, bool) {
	switch t := v.(type) {
	case Int:
		return int64(t), true
	case Ext:
		if t.Tag < ExtBuffer || t.Tag > ExtTabpage {
			return 0, false
		}
		if len(t.Data) == 1 {
			return int64(t.Data[0]), true
		}
		inner, n, err := DecodeValue(t.Data)
		if err != nil || n != len(t.Data) {
			return 0, false
		}
		id, ok := inner.(Int)
		if !ok {
			return 0, false
		}
		return int64(id), true
	default:
		return 0, false
	}
}
