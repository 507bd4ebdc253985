package lsprpc

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config tunes one connection. The zero value is usable.
type Config struct {
	// ServerID is a caller-chosen identifier echoed by ServerID(). It has
	// no protocol meaning.
	ServerID int

	// RequestTimeout caps how long a request waits for its response.
	// Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Logger receives connection diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// CaptureStderr retains the server's stderr output for Stderr().
	CaptureStderr bool
}

// Server is one live connection to a language server subprocess. It
// composes the process supervisor, the transport loops, and the dispatcher
// into the single object callers use.
//
// Server is safe for concurrent use.
type Server struct {
	id   int
	proc *Process
	disp *dispatcher

	capture *stderrSink

	killOnce sync.Once
	killErr  error
}

// Start spawns the language server and brings up the connection: the
// writer, reader, and stderr loops plus the dispatch loop. rootPath
// determines the subprocess working directory (see Spawn).
func Start(bin ServerBinary, rootPath string, cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	proc, err := Spawn(bin, rootPath)
	if err != nil {
		return nil, err
	}
	log.Info("language server started",
		"name", proc.Name(),
		"args", bin.Args,
		"dir", proc.WorkingDir())

	queue := newMsgQueue()
	disp := newDispatcher(queue, cfg.RequestTimeout, log)

	var capture *stderrSink
	if cfg.CaptureStderr {
		capture = &stderrSink{}
	}

	trans := newTransport(disp, queue, proc.stdin, proc.stdout, proc.stderr, capture, log)
	trans.start()
	go disp.dispatchLoop()

	return &Server{
		id:      cfg.ServerID,
		proc:    proc,
		disp:    disp,
		capture: capture,
	}, nil
}

// Request sends a request for method and decodes the response result into
// result (which may be nil to discard it). It blocks until the response
// arrives, the request timeout elapses, ctx is cancelled, or the
// connection shuts down. A server error object is returned as an
// *RPCError.
func (s *Server) Request(ctx context.Context, method string, params, result any) error {
	return s.disp.request(ctx, method, params, result)
}

// Notify sends a notification for method. It returns once the message is
// enqueued; no response is expected.
func (s *Server) Notify(method string, params any) error {
	return s.disp.notify(method, params)
}

// OnNotification registers a handler for server notifications of method.
// At most one handler may be registered per method; a second registration
// panics. The returned subscription removes the handler when closed.
func (s *Server) OnNotification(method string, fn NotificationHandler) *Subscription {
	return s.disp.onNotification(method, fn)
}

// OnRequest registers a handler for server-to-client requests of method.
// The handler's return value is sent back to the server as the response.
// At most one handler may be registered per method; a second registration
// panics.
func (s *Server) OnRequest(method string, fn RequestHandler) *Subscription {
	return s.disp.onRequest(method, fn)
}

// OnIO registers an observer of raw wire traffic: every frame written or
// read and every stderr line, tagged with its direction.
func (s *Server) OnIO(fn IOHandler) *Subscription {
	return s.disp.onIO(fn)
}

// RemoveNotificationHandler drops the handler registered for method, if
// any, without going through its subscription.
func (s *Server) RemoveNotificationHandler(method string) {
	s.disp.removeNotificationHandler(method)
}

// HasNotificationHandler reports whether a handler is registered for
// method.
func (s *Server) HasNotificationHandler(method string) bool {
	return s.disp.hasNotificationHandler(method)
}

// Kill tears the connection down: all four loops stop, every pending
// request resolves with ErrShutdown, the handler and observer tables are
// cleared, and the subprocess is killed. Safe to call more than once.
func (s *Server) Kill() error {
	s.killOnce.Do(func() {
		s.disp.kill()
		s.killErr = s.proc.Kill()
	})
	return s.killErr
}

// ServerID returns the caller-chosen connection identifier.
func (s *Server) ServerID() int { return s.id }

// Name returns the server executable's file name, or "" if unavailable.
func (s *Server) Name() string { return s.proc.Name() }

// RootPath returns the root path the connection was started with.
func (s *Server) RootPath() string { return s.proc.RootPath() }

// WorkingDir returns the subprocess working directory.
func (s *Server) WorkingDir() string { return s.proc.WorkingDir() }

// Stderr returns the captured stderr output. It is empty unless
// Config.CaptureStderr was set.
func (s *Server) Stderr() string {
	if s.capture == nil {
		return ""
	}
	return s.capture.text()
}

// Done returns a channel that receives the subprocess exit result once.
func (s *Server) Done() <-chan error { return s.proc.Wait() }
