package stream

import "testing"

func TestSendDrainClose(t *testing.T) {
	s := New()
	s.Send([]byte("a"))
	s.Send([]byte("b"))

	frames, done := s.Drain()
	if done {
		t.Fatalf("Drain reported done before Close")
	}
	if len(frames) != 2 || string(frames[0]) != "a" || string(frames[1]) != "b" {
		t.Fatalf("Drain = %v, want [a b]", frames)
	}

	s.Close()
	if ok := s.Send([]byte("c")); ok {
		t.Fatalf("Send after Close should report false")
	}
	frames, done = s.Drain()
	if !done {
		t.Fatalf("Drain should report done after Close with no pending frames")
	}
	if len(frames) != 0 {
		t.Fatalf("Drain after Close with a dropped Send = %v, want empty", frames)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Status: StatusOK, Codec: CodecArrowIPC, Payload: []byte{1, 2, 3}}
	buf, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.Status != StatusOK || got.Codec != CodecArrowIPC {
		t.Errorf("got = %+v", got)
	}
}

func TestSendHeaderAndCloseIsSingleFrameThenClosed(t *testing.T) {
	s := New()
	SendHeaderAndClose(s, Header{Status: StatusCancelled, Codec: CodecRaw})
	frames, done := s.Drain()
	if !done {
		t.Fatalf("stream should be closed")
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly one header frame, got %d", len(frames))
	}
	h, err := DecodeHeader(frames[0])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", h.Status)
	}
}
