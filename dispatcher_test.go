package lsprpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRequestSuccess(t *testing.T) {
	c := newTestConn(t, 2*time.Second)

	go func() {
		msg := c.readClientFrame()
		if msg["method"] != "initialize" {
			t.Errorf("method = %v, want initialize", msg["method"])
		}
		c.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"result":{}}`, msg["id"]))
	}()

	var result map[string]any
	err := c.disp.request(context.Background(), "initialize", map[string]any{}, &result)
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}
	if len(result) != 0 {
		t.Errorf("result = %v, want empty object", result)
	}
}

func TestRequestFirstIDIsZero(t *testing.T) {
	c := newTestConn(t, 2*time.Second)

	go func() {
		c.readClientFrame()
		c.send(`{"jsonrpc":"2.0","id":0,"result":{}}`)
	}()

	if err := c.disp.request(context.Background(), "initialize", struct{}{}, nil); err != nil {
		t.Fatalf("request() error = %v", err)
	}
}

func TestRequestRPCError(t *testing.T) {
	c := newTestConn(t, 2*time.Second)

	go func() {
		msg := c.readClientFrame()
		c.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"error":{"message":"boom","code":-32000}}`, msg["id"]))
	}()

	err := c.disp.request(context.Background(), "initialize", struct{}{}, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("request() error = %v, want *RPCError", err)
	}
	if rpcErr.Message != "boom" || rpcErr.Code != -32000 {
		t.Errorf("RPCError = %+v, want boom/-32000", rpcErr)
	}
}

func TestRequestNullResult(t *testing.T) {
	c := newTestConn(t, 2*time.Second)

	// Response with neither result nor error reads as result null.
	go func() {
		msg := c.readClientFrame()
		c.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v}`, msg["id"]))
	}()

	var result *int
	if err := c.disp.request(context.Background(), "shutdown", nil, &result); err != nil {
		t.Fatalf("request() error = %v", err)
	}
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
}

func TestRequestDecodeError(t *testing.T) {
	c := newTestConn(t, 2*time.Second)

	go func() {
		msg := c.readClientFrame()
		c.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"result":"not an object"}`, msg["id"]))
	}()

	var result map[string]any
	err := c.disp.request(context.Background(), "initialize", nil, &result)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("request() error = %v, want ErrInvalidResponse", err)
	}
}

func TestRequestTimeoutRemovesPending(t *testing.T) {
	c := newTestConn(t, 50*time.Millisecond)

	err := c.disp.request(context.Background(), "initialize", struct{}{}, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("request() error = %v, want ErrTimeout", err)
	}
	if n := c.pendingLen(); n != 0 {
		t.Errorf("pending table has %d entries after timeout, want 0", n)
	}
}

func TestLateResponseDiscarded(t *testing.T) {
	c := newTestConn(t, 50*time.Millisecond)

	err := c.disp.request(context.Background(), "initialize", struct{}{}, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("request() error = %v, want ErrTimeout", err)
	}

	// The real response turns up late; it must be dropped silently and the
	// connection must keep working.
	c.send(`{"jsonrpc":"2.0","id":0,"result":{}}`)

	go func() {
		msg := c.readClientFrame() // the timed-out request's frame
		if msg["method"] != "initialize" {
			return
		}
		msg = c.readClientFrame()
		c.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"result":{}}`, msg["id"]))
	}()

	if err := c.disp.request(context.Background(), "textDocument/hover", struct{}{}, nil); err != nil {
		t.Errorf("followup request() error = %v", err)
	}
}

func TestRequestContextCancel(t *testing.T) {
	c := newTestConn(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.disp.request(ctx, "initialize", struct{}{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("request() error = %v, want context.Canceled", err)
	}
	if n := c.pendingLen(); n != 0 {
		t.Errorf("pending table has %d entries after cancel, want 0", n)
	}
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	c := newTestConn(t, 5*time.Second)
	const n = 16

	// Server side: echo each request's method back in its own response.
	go func() {
		for range n {
			msg := c.readClientFrame()
			c.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"result":{"method":%q}}`, msg["id"], msg["method"]))
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			method := fmt.Sprintf("test/method%d", i)
			var result struct {
				Method string `json:"method"`
			}
			if err := c.disp.request(context.Background(), method, struct{}{}, &result); err != nil {
				errs <- err
				return
			}
			if result.Method != method {
				errs <- fmt.Errorf("request %s got response for %s", method, result.Method)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestKillResolvesAllPending(t *testing.T) {
	c := newTestConn(t, time.Minute)
	const n = 8

	errs := make(chan error, n)
	for i := range n {
		go func() {
			errs <- c.disp.request(context.Background(), fmt.Sprintf("test/pending%d", i), struct{}{}, nil)
		}()
	}
	waitFor(t, time.Second, func() bool { return c.pendingLen() == n })

	c.disp.kill()

	for range n {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrShutdown) {
				t.Errorf("pending request error = %v, want ErrShutdown", err)
			}
		case <-time.After(time.Second):
			t.Fatal("pending request still hanging after kill")
		}
	}

	// Kill again: must be safe.
	c.disp.kill()
}

func TestRequestAfterKill(t *testing.T) {
	c := newTestConn(t, time.Second)
	c.disp.kill()

	if err := c.disp.request(context.Background(), "initialize", struct{}{}, nil); !errors.Is(err, ErrShutdown) {
		t.Errorf("request() error = %v, want ErrShutdown", err)
	}
	if err := c.disp.notify("initialized", struct{}{}); !errors.Is(err, ErrShutdown) {
		t.Errorf("notify() error = %v, want ErrShutdown", err)
	}
}

func TestNotifyEnqueuesEnvelope(t *testing.T) {
	c := newTestConn(t, time.Second)

	if err := c.disp.notify("textDocument/didOpen", map[string]string{"uri": "file:///a.go"}); err != nil {
		t.Fatalf("notify() error = %v", err)
	}

	msg := c.readClientFrame()
	if msg["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v", msg["jsonrpc"])
	}
	if msg["method"] != "textDocument/didOpen" {
		t.Errorf("method = %v", msg["method"])
	}
	if _, hasID := msg["id"]; hasID {
		t.Error("notification carries an id")
	}
}

func TestNotificationHandlerLifecycle(t *testing.T) {
	c := newTestConn(t, time.Second)

	var mu sync.Mutex
	var got []string
	sub := c.disp.onNotification("window/showMessage", func(params json.RawMessage) {
		mu.Lock()
		got = append(got, string(params))
		mu.Unlock()
	})

	c.send(`{"jsonrpc":"2.0","method":"window/showMessage","params":{"message":"hi"}}`)
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	if !strings.Contains(got[0], "hi") {
		t.Errorf("handler params = %q", got[0])
	}

	// Dropping the subscription removes the handler; the next notification
	// is not delivered.
	sub.Close()
	c.send(`{"jsonrpc":"2.0","method":"window/showMessage","params":{"message":"again"}}`)
	c.send(`{"jsonrpc":"2.0","method":"test/fence","params":{}}`)

	fence := make(chan struct{}, 2)
	c.disp.onNotification("test/fence", func(json.RawMessage) {
		select {
		case fence <- struct{}{}:
		default:
		}
	})
	// Re-send the fence: the first copy may have raced the registration.
	c.send(`{"jsonrpc":"2.0","method":"test/fence","params":{}}`)
	select {
	case <-fence:
	case <-time.After(time.Second):
		t.Fatal("fence notification never dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("handler invoked %d times, want 1", len(got))
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	c := newTestConn(t, time.Second)
	c.disp.onNotification("window/showMessage", func(json.RawMessage) {})

	defer func() {
		if recover() == nil {
			t.Error("second registration did not panic")
		}
	}()
	c.disp.onNotification("window/showMessage", func(json.RawMessage) {})
}

func TestHasAndRemoveNotificationHandler(t *testing.T) {
	c := newTestConn(t, time.Second)

	if c.disp.hasNotificationHandler("window/showMessage") {
		t.Error("handler reported before registration")
	}
	c.disp.onNotification("window/showMessage", func(json.RawMessage) {})
	if !c.disp.hasNotificationHandler("window/showMessage") {
		t.Error("handler not reported after registration")
	}

	c.disp.removeNotificationHandler("window/showMessage")
	if c.disp.hasNotificationHandler("window/showMessage") {
		t.Error("handler reported after removal")
	}

	// Removal frees the name for a fresh registration.
	c.disp.onNotification("window/showMessage", func(json.RawMessage) {})
}

func TestOnRequestRoundTrip(t *testing.T) {
	c := newTestConn(t, time.Second)

	c.disp.onRequest("workspace/configuration", func(params json.RawMessage) (any, error) {
		return []any{map[string]any{"enabled": true}}, nil
	})

	c.send(`{"jsonrpc":"2.0","id":7,"method":"workspace/configuration","params":{"items":[{}]}}`)

	msg := c.readClientFrame()
	if msg["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v", msg["jsonrpc"])
	}
	if msg["id"] != float64(7) {
		t.Errorf("id = %v, want 7", msg["id"])
	}
	if msg["error"] != nil {
		t.Errorf("error = %v, want absent", msg["error"])
	}
	result, ok := msg["result"].([]any)
	if !ok || len(result) != 1 {
		t.Fatalf("result = %v, want one-element array", msg["result"])
	}
}

func TestOnRequestStringID(t *testing.T) {
	c := newTestConn(t, time.Second)

	c.disp.onRequest("client/registerCapability", func(json.RawMessage) (any, error) {
		return nil, nil
	})

	c.send(`{"jsonrpc":"2.0","id":"reg-1","method":"client/registerCapability","params":{}}`)

	msg := c.readClientFrame()
	if msg["id"] != "reg-1" {
		t.Errorf("id = %v, want reg-1", msg["id"])
	}
	if _, hasResult := msg["result"]; !hasResult {
		t.Error("response missing result")
	}
}

func TestOnRequestHandlerError(t *testing.T) {
	c := newTestConn(t, time.Second)

	c.disp.onRequest("window/showDocument", func(json.RawMessage) (any, error) {
		return nil, errors.New("no display attached")
	})

	c.send(`{"jsonrpc":"2.0","id":3,"method":"window/showDocument","params":{}}`)

	msg := c.readClientFrame()
	errObj, ok := msg["error"].(map[string]any)
	if !ok {
		t.Fatalf("error = %v, want object", msg["error"])
	}
	if errObj["message"] != "no display attached" {
		t.Errorf("error message = %v", errObj["message"])
	}
	if errObj["code"] != float64(CodeRequestFailed) {
		t.Errorf("error code = %v, want %d", errObj["code"], CodeRequestFailed)
	}
}
