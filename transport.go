package lsprpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

// IOKind is the direction tag handed to I/O observers.
type IOKind int

const (
	// IOIn is a frame read from the server's output stream.
	IOIn IOKind = iota
	// IOOut is a frame written to the server's input stream.
	IOOut
	// IOErr is a line read from the server's error stream.
	IOErr
)

// String returns a human-readable direction name.
func (k IOKind) String() string {
	switch k {
	case IOIn:
		return "in"
	case IOOut:
		return "out"
	case IOErr:
		return "err"
	default:
		return "unknown"
	}
}

// IOHandler observes raw wire traffic for tracing. It must not be relied
// on for correctness.
type IOHandler func(kind IOKind, text string)

// stderrSink accumulates the server's stderr output when capture is
// enabled.
type stderrSink struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *stderrSink) append(line string) {
	s.mu.Lock()
	s.buf.WriteString(line)
	s.mu.Unlock()
}

func (s *stderrSink) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// transport runs the three connection loops over the subprocess pipes: a
// writer draining the outbound queue into stdin, a reader decoding frames
// from stdout, and a stderr line reader. The loops start together and are
// torn down together when the dispatcher's done channel closes.
type transport struct {
	log     *slog.Logger
	disp    *dispatcher
	queue   *msgQueue
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
	capture *stderrSink // nil when capture is disabled

	wg sync.WaitGroup
}

func newTransport(disp *dispatcher, queue *msgQueue, stdin io.WriteCloser, stdout, stderr io.Reader, capture *stderrSink, log *slog.Logger) *transport {
	return &transport{
		log:     log,
		disp:    disp,
		queue:   queue,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		capture: capture,
	}
}

// start launches the three loops.
func (t *transport) start() {
	t.wg.Add(3)
	go t.writeLoop()
	go t.readLoop()
	go t.stderrLoop()
}

// writeLoop drains the outbound queue into the server's stdin, framing and
// flushing after every message. Messages here are small and interactive;
// latency wins over batching. A closed queue ends the loop cleanly; a
// write failure is a connection-level error.
func (t *transport) writeLoop() {
	defer t.wg.Done()

	w := bufio.NewWriter(t.stdin)
	for {
		msg, ok := t.queue.Pop()
		if !ok {
			t.stdin.Close()
			return
		}

		t.disp.notifyIO(IOOut, msg)

		if _, err := w.Write(encodeFrame([]byte(msg))); err != nil {
			t.fail("write to server stdin", err)
			return
		}
		if err := w.Flush(); err != nil {
			t.fail("flush server stdin", err)
			return
		}
	}
}

// readLoop decodes frames from the server's stdout and routes each to the
// dispatcher: responses complete their pending request, notifications and
// server requests go to the dispatch loop. Frames matching neither shape
// are protocol noise, logged and dropped. Only a frame-read failure stops
// the loop, failing every pending request with the connection error.
func (t *transport) readLoop() {
	defer t.wg.Done()

	r := bufio.NewReaderSize(t.stdout, 64*1024)
	for {
		body, err := readFrame(r)
		if err != nil {
			select {
			case <-t.disp.done:
			default:
				t.log.Error("reader loop stopped", "error", err)
				t.disp.failPending(fmt.Errorf("connection closed: %w", err))
			}
			return
		}

		if utf8.Valid(body) {
			t.disp.notifyIO(IOIn, string(body))
		}

		switch classifyFrame(body) {
		case shapeNotification:
			var msg anyNotification
			if err := json.Unmarshal(body, &msg); err != nil {
				t.log.Warn("discarding unparseable notification frame", "error", err, "body", clip(body))
				continue
			}
			select {
			case t.disp.notifCh <- msg:
			case <-t.disp.done:
				return
			}

		case shapeResponse:
			var resp anyResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				t.log.Warn("discarding unparseable response frame", "error", err, "body", clip(body))
				continue
			}
			t.disp.complete(resp)

		default:
			t.log.Warn("discarding frame matching no message shape", "body", clip(body))
		}
	}
}

// stderrLoop reads the server's stderr line by line, feeding observers and
// the capture buffer. End of stream ends the loop cleanly.
func (t *transport) stderrLoop() {
	defer t.wg.Done()

	r := bufio.NewReader(t.stderr)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			t.disp.notifyIO(IOErr, line)
			if t.capture != nil {
				t.capture.append(line)
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *transport) fail(op string, err error) {
	select {
	case <-t.disp.done:
		return
	default:
	}
	t.log.Error("writer loop stopped", "op", op, "error", err)
	t.disp.failPending(fmt.Errorf("%s: %w", op, err))
}

// clip bounds a frame body for log output.
func clip(body []byte) string {
	const max = 256
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
