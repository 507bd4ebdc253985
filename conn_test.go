package lsprpc

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

// testConn wires a dispatcher and transport to in-memory pipes so tests
// can play the server side of the connection.
type testConn struct {
	t       *testing.T
	disp    *dispatcher
	queue   *msgQueue
	capture *stderrSink

	// Server-side pipe ends.
	fromClient *bufio.Reader
	toClient   *io.PipeWriter
	toStderr   *io.PipeWriter
}

func newTestConn(t *testing.T, timeout time.Duration) *testConn {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := newMsgQueue()
	disp := newDispatcher(queue, timeout, logger)
	capture := &stderrSink{}

	tr := newTransport(disp, queue, stdinW, stdoutR, stderrR, capture, logger)
	tr.start()
	go disp.dispatchLoop()

	c := &testConn{
		t:          t,
		disp:       disp,
		queue:      queue,
		capture:    capture,
		fromClient: bufio.NewReader(stdinR),
		toClient:   stdoutW,
		toStderr:   stderrW,
	}

	t.Cleanup(func() {
		disp.kill()
		stdinR.Close()
		stdoutW.Close()
		stderrW.Close()
	})
	return c
}

// readClientFrame reads the next frame the client wrote and decodes it.
func (c *testConn) readClientFrame() map[string]any {
	c.t.Helper()
	body, err := readFrame(c.fromClient)
	if err != nil {
		c.t.Fatalf("read client frame: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		c.t.Fatalf("decode client frame %q: %v", body, err)
	}
	return msg
}

// send frames body and feeds it to the client's reader loop.
func (c *testConn) send(body string) {
	c.t.Helper()
	if _, err := c.toClient.Write(encodeFrame([]byte(body))); err != nil {
		c.t.Fatalf("send to client: %v", err)
	}
}

// sendStderr feeds one line to the client's stderr loop.
func (c *testConn) sendStderr(line string) {
	c.t.Helper()
	if _, err := io.WriteString(c.toStderr, line); err != nil {
		c.t.Fatalf("send stderr: %v", err)
	}
}

// pendingLen reports the size of the pending-response table, or -1 after
// shutdown.
func (c *testConn) pendingLen() int {
	c.disp.mu.Lock()
	defer c.disp.mu.Unlock()
	if c.disp.pending == nil {
		return -1
	}
	return len(c.disp.pending)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
