package dbworker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stealthrocket/molt-io/stream"
)

func newTestWorker() *Worker {
	return &Worker{pending: make(map[string]*pending), incoming: make(chan WorkerResponse, 8)}
}

func TestDeliverRoutesResponseToStreamAndCloses(t *testing.T) {
	w := newTestWorker()
	out := stream.New()
	w.pending["r1"] = &pending{out: out}

	w.deliver(WorkerResponse{RequestID: "r1", Status: "ok", Codec: "json", PayloadB64: "eyJhIjoxfQ=="})

	frames, done := out.Drain()
	if !done {
		t.Fatalf("stream should be closed after deliver")
	}
	if len(frames) != 1 {
		t.Fatalf("expected one header frame, got %d", len(frames))
	}
	h, err := stream.DecodeHeader(frames[0])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Status != stream.StatusOK {
		t.Errorf("Status = %v, want ok", h.Status)
	}
	if string(h.Payload) != `{"a":1}` {
		t.Errorf("Payload = %q, want {\"a\":1}", h.Payload)
	}
	if _, stillPending := w.pending["r1"]; stillPending {
		t.Errorf("request should be removed from pending map after delivery")
	}
}

func TestFailAllPendingOnWorkerDeath(t *testing.T) {
	w := newTestWorker()
	out1, out2 := stream.New(), stream.New()
	w.pending["r1"] = &pending{out: out1}
	w.pending["r2"] = &pending{out: out2}

	w.failAllPending("worker process exited")

	for _, s := range []*stream.Stream{out1, out2} {
		frames, done := s.Drain()
		if !done || len(frames) != 1 {
			t.Fatalf("expected one header frame and closed stream, got done=%v frames=%d", done, len(frames))
		}
		h, _ := stream.DecodeHeader(frames[0])
		if h.Status != stream.StatusInternal {
			t.Errorf("Status = %v, want internal_error", h.Status)
		}
	}
	if len(w.pending) != 0 {
		t.Errorf("pending map should be empty, has %d entries", len(w.pending))
	}
}

func TestCancelTokenLatchesSingleCancelRequest(t *testing.T) {
	w := newTestWorker()
	var stdin bytes.Buffer
	w.stdin = nopWriteCloser{&stdin}

	out := stream.New()
	p := &pending{out: out}
	w.pending["r1"] = p
	tok := CancelToken{p: p}
	tok.Cancel()

	w.Poll()
	w.Poll() // second poll must not emit a second cancel frame

	frames := splitFrames(t, stdin.Bytes())
	if len(frames) != 1 {
		t.Fatalf("expected exactly one __cancel__ frame across two polls, got %d", len(frames))
	}
	var req WorkerRequest
	if err := json.Unmarshal(frames[0], &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.Entry != cancelEntry || req.RequestID != "r1" {
		t.Errorf("req = %+v, want __cancel__ for r1", req)
	}
}

func TestWriteFrameRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	body := make([]byte, MaxFrameSize+1)
	if err := writeFrame(&buf, body); err == nil {
		t.Fatalf("writeFrame should reject a frame over %d bytes", MaxFrameSize)
	}
	if buf.Len() != 0 {
		t.Errorf("writeFrame wrote %d bytes of a rejected frame", buf.Len())
	}
}

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func splitFrames(t *testing.T, buf []byte) [][]byte {
	t.Helper()
	var frames [][]byte
	for len(buf) > 0 {
		if len(buf) < 4 {
			t.Fatalf("truncated frame length prefix")
		}
		n := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < n {
			t.Fatalf("truncated frame body")
		}
		frames = append(frames, buf[:n])
		buf = buf[n:]
	}
	return frames
}
