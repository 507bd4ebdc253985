package lsprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout is the window a request waits for its response
// before resolving with ErrTimeout.
const DefaultRequestTimeout = 5 * time.Second

// NotificationHandler is caller-supplied code invoked with the params of
// an incoming notification. Decoding params into the method's declared
// shape is the handler's concern; the runtime never interprets them.
type NotificationHandler func(params json.RawMessage)

// RequestHandler is caller-supplied code invoked with the params of a
// server-to-client request. Its return value (or error) is serialized back
// to the server as the response.
type RequestHandler func(params json.RawMessage) (any, error)

// responseHandler completes one pending request. Each is invoked exactly
// once: with the response's raw result, with the server's error object, or
// with a connection-level error at teardown.
type responseHandler func(raw json.RawMessage, err error)

// methodHandler is one entry in the per-method handler table. Exactly one
// of notify or request is set.
type methodHandler struct {
	notify  NotificationHandler
	request func(id RequestID, params json.RawMessage)
}

// dispatcher is the RPC correlation core for one connection: it assigns
// request ids, owns the pending-response and handler tables, and runs the
// dispatch loop draining server-initiated messages classified by the
// reader loop.
//
// Locking: mu guards table lookups and mutations only. It is never held
// across I/O or across invocation of caller-supplied handlers.
type dispatcher struct {
	log     *slog.Logger
	timeout time.Duration
	queue   *msgQueue

	nextID  atomic.Int64
	nextTap atomic.Int64

	mu       sync.Mutex
	pending  map[RequestID]responseHandler // nil once the connection is torn down
	handlers map[string]methodHandler
	ioTaps   map[int64]IOHandler

	notifCh   chan anyNotification
	done      chan struct{}
	closeOnce sync.Once
}

func newDispatcher(queue *msgQueue, timeout time.Duration, log *slog.Logger) *dispatcher {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &dispatcher{
		log:      log,
		timeout:  timeout,
		queue:    queue,
		pending:  make(map[RequestID]responseHandler),
		handlers: make(map[string]methodHandler),
		ioTaps:   make(map[int64]IOHandler),
		notifCh:  make(chan anyNotification, 16),
		done:     make(chan struct{}),
	}
}

// request sends a request and blocks until its response arrives, the
// timeout elapses, ctx is cancelled, or the connection shuts down. Every
// call resolves; none hangs across Kill.
func (d *dispatcher) request(ctx context.Context, method string, params, result any) error {
	id := IntID(d.nextID.Add(1) - 1)

	data, err := json.Marshal(request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	type outcome struct {
		raw json.RawMessage
		err error
	}
	ch := make(chan outcome, 1)

	d.mu.Lock()
	if d.pending == nil {
		d.mu.Unlock()
		return ErrShutdown
	}
	d.pending[id] = func(raw json.RawMessage, err error) {
		ch <- outcome{raw: raw, err: err}
	}
	d.mu.Unlock()

	if err := d.queue.Push(string(data)); err != nil {
		d.removePending(id)
		return err
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return out.err
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(out.raw, result); err != nil {
			return fmt.Errorf("%w: decode %s result: %v", ErrInvalidResponse, method, err)
		}
		return nil

	case <-timer.C:
		// The entry must go now: a late response for this id is discarded
		// rather than completing a caller that already gave up.
		d.removePending(id)
		return fmt.Errorf("%w: %s after %s", ErrTimeout, method, d.timeout)

	case <-ctx.Done():
		d.removePending(id)
		return ctx.Err()
	}
}

// notify serializes a notification and enqueues it. It returns once the
// message is queued; there is no response to wait for.
func (d *dispatcher) notify(method string, params any) error {
	data, err := json.Marshal(notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return d.queue.Push(string(data))
}

// onNotification registers fn for a method. Registering a second handler
// for the same method is a programming error and panics.
func (d *dispatcher) onNotification(method string, fn NotificationHandler) *Subscription {
	if fn == nil {
		panic("lsprpc: nil notification handler")
	}
	d.register(method, methodHandler{notify: fn})
	return newSubscription(func() { d.removeNotificationHandler(method) })
}

// onRequest registers fn for a server-to-client request method. The
// handler's result travels back through the same outbound queue as every
// other message; this is the only path on which the client side produces a
// response envelope.
func (d *dispatcher) onRequest(method string, fn RequestHandler) *Subscription {
	if fn == nil {
		panic("lsprpc: nil request handler")
	}
	d.register(method, methodHandler{request: func(id RequestID, params json.RawMessage) {
		result, err := fn(params)
		d.respond(id, result, err)
	}})
	return newSubscription(func() { d.removeNotificationHandler(method) })
}

func (d *dispatcher) register(method string, h methodHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[method]; exists {
		panic(fmt.Sprintf("lsprpc: multiple handlers registered for %q", method))
	}
	d.handlers[method] = h
}

// respond serializes a request handler's outcome as a response envelope
// addressed to the inbound request's id.
func (d *dispatcher) respond(id RequestID, result any, herr error) {
	resp := response{JSONRPC: JSONRPCVersion, ID: id}
	if herr != nil {
		resp.Error = &RPCError{Code: CodeRequestFailed, Message: herr.Error()}
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			d.log.Error("marshal request handler result", "id", id.String(), "error", err)
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		d.log.Error("marshal response envelope", "id", id.String(), "error", err)
		return
	}
	if err := d.queue.Push(string(data)); err != nil {
		d.log.Debug("dropping response, connection shut down", "id", id.String())
	}
}

// onIO registers an observer invoked with the raw text of every frame
// written or read and every stderr line. Observers are tracing hooks only:
// a panicking observer is logged and the loop that invoked it continues.
func (d *dispatcher) onIO(fn IOHandler) *Subscription {
	if fn == nil {
		panic("lsprpc: nil io handler")
	}
	key := d.nextTap.Add(1)
	d.mu.Lock()
	d.ioTaps[key] = fn
	d.mu.Unlock()
	return newSubscription(func() {
		d.mu.Lock()
		delete(d.ioTaps, key)
		d.mu.Unlock()
	})
}

// removeNotificationHandler drops the handler registered for method, if
// any.
func (d *dispatcher) removeNotificationHandler(method string) {
	d.mu.Lock()
	delete(d.handlers, method)
	d.mu.Unlock()
}

// hasNotificationHandler reports whether a handler is registered for
// method.
func (d *dispatcher) hasNotificationHandler(method string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[method]
	return ok
}

// complete resolves the pending request matching an incoming response.
// Responses with no matching id, late arrivals after a timeout included,
// are discarded with a trace log.
func (d *dispatcher) complete(resp anyResponse) {
	d.mu.Lock()
	if d.pending == nil {
		d.mu.Unlock()
		d.log.Debug("response after shutdown", "id", resp.ID.String())
		return
	}
	handler, ok := d.pending[resp.ID]
	if ok {
		delete(d.pending, resp.ID)
	}
	d.mu.Unlock()

	if !ok {
		d.log.Debug("response with no pending request", "id", resp.ID.String())
		return
	}

	if resp.Error != nil {
		handler(nil, resp.Error)
		return
	}
	raw := resp.Result
	if raw == nil {
		raw = json.RawMessage("null")
	}
	handler(raw, nil)
}

// removePending discards the entry for id without completing it.
func (d *dispatcher) removePending(id RequestID) {
	d.mu.Lock()
	if d.pending != nil {
		delete(d.pending, id)
	}
	d.mu.Unlock()
}

// failPending tears down the pending table, completing every outstanding
// waiter with err so no caller blocks forever.
func (d *dispatcher) failPending(err error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for id, handler := range pending {
		d.log.Debug("failing pending request", "id", id.String(), "error", err)
		handler(nil, err)
	}
}

// notifyIO fans text out to every registered observer. Handlers run
// outside the lock.
func (d *dispatcher) notifyIO(kind IOKind, text string) {
	d.mu.Lock()
	if len(d.ioTaps) == 0 {
		d.mu.Unlock()
		return
	}
	taps := make([]IOHandler, 0, len(d.ioTaps))
	for _, fn := range d.ioTaps {
		taps = append(taps, fn)
	}
	d.mu.Unlock()

	for _, fn := range taps {
		d.invokeTap(fn, kind, text)
	}
}

func (d *dispatcher) invokeTap(fn IOHandler, kind IOKind, text string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("io observer panicked", "kind", kind.String(), "panic", r)
		}
	}()
	fn(kind, text)
}

// dispatchLoop drains server-initiated messages forwarded by the reader
// loop and invokes the registered handler for each. The handler table lock
// is released before the handler runs. It exits when the connection is
// killed.
func (d *dispatcher) dispatchLoop() {
	for {
		select {
		case <-d.done:
			return
		case msg := <-d.notifCh:
			d.dispatch(msg)
		}
	}
}

func (d *dispatcher) dispatch(msg anyNotification) {
	d.mu.Lock()
	h, ok := d.handlers[msg.Method]
	d.mu.Unlock()

	if !ok {
		d.log.Debug("no handler for server message", "method", msg.Method)
		return
	}

	if h.request != nil {
		if msg.ID == nil {
			d.log.Warn("server sent notification for request-handler method", "method", msg.Method)
			return
		}
		h.request(*msg.ID, msg.Params)
		return
	}
	h.notify(msg.Params)
}

// kill tears the dispatcher down: the dispatch loop and transport loops
// are released, every pending waiter resolves with ErrShutdown, and the
// handler and observer tables are cleared. Safe to call more than once.
func (d *dispatcher) kill() {
	d.closeOnce.Do(func() { close(d.done) })
	d.queue.Close()
	d.failPending(ErrShutdown)

	d.mu.Lock()
	d.handlers = make(map[string]methodHandler)
	d.ioTaps = make(map[int64]IOHandler)
	d.mu.Unlock()
}
