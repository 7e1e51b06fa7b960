package stream

import "github.com/vmihailenco/msgpack/v5"

// Status is the outcome tag carried by a Header frame.
type Status string

const (
	StatusOK           Status = "ok"
	StatusInvalidInput Status = "invalid_input"
	StatusBusy         Status = "busy"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
	StatusInternal     Status = "internal_error"
)

// Codec names the encoding of the payload that follows a Header frame.
type Codec string

const (
	CodecRaw      Codec = "raw"
	CodecMsgpack  Codec = "msgpack"
	CodecJSON     Codec = "json"
	CodecArrowIPC Codec = "arrow_ipc"
)

// Header is the self-describing MessagePack map every database output
// stream leads with. Subsequent frames on the same Stream carry
// codec-specific bulk data. Process stdout/stderr streams carry the raw
// output bytes and no header frame.
type Header struct {
	Status  Status         `msgpack:"status"`
	Codec   Codec          `msgpack:"codec"`
	Payload []byte         `msgpack:"payload,omitempty"`
	Error   string         `msgpack:"error,omitempty"`
	Metrics map[string]any `msgpack:"metrics,omitempty"`
}

// EncodeHeader serializes h to MessagePack.
func EncodeHeader(h Header) ([]byte, error) {
	return msgpack.Marshal(h)
}

// DecodeHeader parses a MessagePack-encoded Header frame.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	err := msgpack.Unmarshal(buf, &h)
	return h, err
}

// SendHeader encodes h and appends it as the first frame on s. Use
// SendHeaderAndClose for the common "one header, no payload, then close"
// internal_error/cancelled/timeout paths.
func SendHeader(s *Stream, h Header) error {
	buf, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	s.Send(buf)
	return nil
}

// SendHeaderAndClose sends h as the sole frame and closes s. The Stream
// delivery path for DB output never raises to the guest:
// failures become an internal_error header followed by close instead of
// a Go error crossing into guest-visible state.
func SendHeaderAndClose(s *Stream, h Header) {
	_ = SendHeader(s, h)
	s.Close()
}
