// Package dbworker implements the DB worker bridge (C9): a managed
// external subprocess servicing database queries over a framed RPC,
// with per-request cancellation and delivery onto guest Streams.
package dbworker

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stealthrocket/molt-io/stream"
)

// WorkerRequest is the length-prefixed JSON envelope sent to the worker.
type WorkerRequest struct {
	RequestID  string `json:"request_id"`
	Entry      string `json:"entry"`
	TimeoutMS  int64  `json:"timeout_ms"`
	Codec      string `json:"codec"`
	PayloadB64 string `json:"payload_b64"`
}

// WorkerResponse is the length-prefixed JSON envelope received back.
type WorkerResponse struct {
	RequestID  string         `json:"request_id"`
	Status     string         `json:"status"`
	Codec      string         `json:"codec"`
	PayloadB64 string         `json:"payload_b64,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

const cancelEntry = "__cancel__"

// MaxFrameSize caps a request or response frame. Oversized response
// frames mean the worker is corrupt or hostile and kill the channel.
const MaxFrameSize = 64 << 20

// CancelPollInterval bounds how often in-flight requests are re-checked
// for cancellation.
const CancelPollInterval = 10 * time.Millisecond

// pending is one in-flight request: the Stream its response is routed to,
// and a latch so a cancellation is emitted to the worker at most once.
type pending struct {
	out        *stream.Stream
	cancelled  atomic.Bool
	sentCancel atomic.Bool
}

// CancelToken is handed to a caller at request time; setting it cancelled
// causes the next poll iteration to emit a __cancel__ control request.
type CancelToken struct {
	p *pending
}

// Cancel marks the request as cancelled.
func (t CancelToken) Cancel() {
	if t.p != nil {
		t.p.cancelled.Store(true)
	}
}

// Worker manages one external database-worker subprocess.
type Worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu       sync.Mutex
	started  bool
	dead     bool
	deadOnce sync.Once

	reqMu   sync.Mutex
	pending map[string]*pending

	incoming chan WorkerResponse

	lastCancelScan time.Time
}

// NewWorker builds a Worker that will launch argv on first use.
func NewWorker(argv []string) *Worker {
	cmd := exec.Command(argv[0], argv[1:]...)
	return &Worker{cmd: cmd, pending: make(map[string]*pending), incoming: make(chan WorkerResponse, 64)}
}

func (w *Worker) ensureStarted() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := w.cmd.Start(); err != nil {
		return err
	}
	w.stdin = stdin
	w.stdout = stdout
	w.started = true
	go func() {
		w.readLoop()
		// The loop only returns once the response channel is gone, so the
		// stdout pipe is no longer being read and the child can be reaped.
		w.cmd.Wait()
	}()
	return nil
}

func (w *Worker) readLoop() {
	r := bufio.NewReader(w.stdout)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			w.markDead()
			return
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		if n > MaxFrameSize {
			w.markDead()
			return
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			w.markDead()
			return
		}
		var resp WorkerResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			continue
		}
		w.incoming <- resp
	}
}

func (w *Worker) markDead() {
	w.deadOnce.Do(func() {
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
		close(w.incoming)
	})
}

func writeFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the %d byte limit", len(body), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Query submits a request, returning the Stream it will be delivered onto
// and a CancelToken the caller can set to request cancellation.
func (w *Worker) Query(requestID, entry string, timeout time.Duration, codec string, payload []byte) (*stream.Stream, CancelToken, error) {
	if err := w.ensureStarted(); err != nil {
		return nil, CancelToken{}, err
	}

	out := stream.New()
	p := &pending{out: out}
	w.reqMu.Lock()
	w.pending[requestID] = p
	w.reqMu.Unlock()

	req := WorkerRequest{
		RequestID:  requestID,
		Entry:      entry,
		TimeoutMS:  timeout.Milliseconds(),
		Codec:      codec,
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	}
	body, err := json.Marshal(req)
	if err != nil {
		w.failRequest(requestID, fmt.Sprintf("marshal request: %v", err))
		return out, CancelToken{p: p}, nil
	}

	w.mu.Lock()
	werr := writeFrame(w.stdin, body)
	w.mu.Unlock()
	if werr != nil {
		w.failRequest(requestID, fmt.Sprintf("write request: %v", werr))
	}

	return out, CancelToken{p: p}, nil
}

func (w *Worker) failRequest(requestID, diagnostic string) {
	w.reqMu.Lock()
	p, ok := w.pending[requestID]
	if ok {
		delete(w.pending, requestID)
	}
	w.reqMu.Unlock()
	if !ok {
		return
	}
	stream.SendHeaderAndClose(p.out, stream.Header{
		Status: stream.StatusInternal,
		Codec:  stream.CodecRaw,
		Error:  diagnostic,
	})
}

// Poll drains any responses that have arrived, routing each onto its
// Stream and closing it, and emits a __cancel__ control request for every
// pending request whose token has been cancelled and not yet notified.
// It also detects worker death and fails every still-pending request.
func (w *Worker) Poll() {
	for {
		select {
		case resp, ok := <-w.incoming:
			if !ok {
				w.failAllPending("worker process exited")
				return
			}
			w.deliver(resp)
		default:
			goto drainedIncoming
		}
	}
drainedIncoming:

	w.mu.Lock()
	dead := w.dead
	w.mu.Unlock()
	if dead {
		w.failAllPending("worker process exited")
		return
	}

	// Re-check cancellation state no more often than CancelPollInterval,
	// even when the guest polls in a tight loop.
	if since := time.Since(w.lastCancelScan); since < CancelPollInterval && !w.lastCancelScan.IsZero() {
		return
	}
	w.lastCancelScan = time.Now()

	w.reqMu.Lock()
	var toCancel []string
	for id, p := range w.pending {
		if p.cancelled.Load() && !p.sentCancel.Load() {
			p.sentCancel.Store(true)
			toCancel = append(toCancel, id)
		}
	}
	w.reqMu.Unlock()

	for _, id := range toCancel {
		body, err := json.Marshal(WorkerRequest{RequestID: id, Entry: cancelEntry})
		if err != nil {
			continue
		}
		w.mu.Lock()
		writeFrame(w.stdin, body)
		w.mu.Unlock()
	}
}

func (w *Worker) deliver(resp WorkerResponse) {
	w.reqMu.Lock()
	p, ok := w.pending[resp.RequestID]
	if ok {
		delete(w.pending, resp.RequestID)
	}
	w.reqMu.Unlock()
	if !ok {
		return
	}

	var payload []byte
	if resp.PayloadB64 != "" {
		payload, _ = base64.StdEncoding.DecodeString(resp.PayloadB64)
	}
	stream.SendHeaderAndClose(p.out, stream.Header{
		Status:  stream.Status(resp.Status),
		Codec:   stream.Codec(resp.Codec),
		Payload: payload,
		Error:   resp.Error,
		Metrics: resp.Metrics,
	})
}

// IsPending reports whether a request is still awaiting its response.
// The host bridge uses it to prune its token table after each poll.
func (w *Worker) IsPending(requestID string) bool {
	w.reqMu.Lock()
	defer w.reqMu.Unlock()
	_, ok := w.pending[requestID]
	return ok
}

func (w *Worker) failAllPending(diagnostic string) {
	w.reqMu.Lock()
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.reqMu.Unlock()
	for _, id := range ids {
		w.failRequest(id, diagnostic)
	}
}
