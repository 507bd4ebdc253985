// Package lsprpc is a client-side transport and RPC runtime for the
// Language Server Protocol. It spawns a language-server subprocess, frames
// and parses the Content-Length-delimited JSON-RPC traffic on its standard
// streams, correlates requests with responses, and dispatches
// server-initiated notifications and requests to registered handlers.
//
// # Architecture
//
// One connection is four cooperating loops over shared correlation state:
//
//   - writer loop: drains the outbound queue into the server's stdin,
//     one framed, flushed message at a time
//   - reader loop: decodes frames from the server's stdout and classifies
//     each as a response (completing a pending request) or a
//     notification/request (forwarded to the dispatch loop)
//   - stderr loop: captures diagnostic lines from the server's stderr
//   - dispatch loop: invokes the registered handler for each
//     server-initiated message
//
// The Server facade composes these with the process supervisor and is the
// only type most callers need.
//
// # Quick Start
//
//	srv, err := lsprpc.Start(lsprpc.ServerBinary{
//	    Path: "gopls",
//	    Args: []string{"serve"},
//	}, "/path/to/project", lsprpc.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Kill()
//
//	var result json.RawMessage
//	err = srv.Request(ctx, "initialize", initParams, &result)
//
// Method names, parameter shapes, and result shapes are the caller's
// contract with the specific language server; this runtime treats them as
// opaque JSON.
//
// # Handlers
//
// Server-initiated traffic is routed by method name. Each method has at
// most one handler; registering a second panics. Registrations return a
// Subscription whose Close removes the handler and whose Detach makes it
// permanent:
//
//	sub := srv.OnNotification("window/showMessage", func(params json.RawMessage) {
//	    // ...
//	})
//	defer sub.Close()
//
// OnRequest handlers answer server-to-client requests; their return value
// travels back over the same connection as a response.
//
// # Guarantees
//
// Every in-flight Request resolves: with its result, a server *RPCError, a
// decode error, ErrTimeout, or ErrShutdown. Kill never leaves a caller
// hanging. Protocol noise (unparseable frames, notifications with no
// handler) is logged and dropped without disturbing the connection; only
// pipe or process failure, or Kill, ends it.
package lsprpc
