// Package main is the lsptrace tool: it spawns a configured language
// server, performs the initialize handshake, and streams the raw wire
// traffic to the terminal and optionally into a SQLite trace database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/dshills/lsprpc"
	"github.com/dshills/lsprpc/internal/config"
	"github.com/dshills/lsprpc/internal/tracestore"
	"github.com/dshills/lsprpc/workspace"
)

// setFlags collects repeated -set path=value overrides for the initialize
// params.
type setFlags []string

func (f *setFlags) String() string { return strings.Join(*f, ",") }

func (f *setFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "lsptrace.toml", "path to the TOML configuration file")
		rootFlag   = flag.String("root", "", "workspace root (overrides config and git detection)")
		sets       setFlags
	)
	flag.Var(&sets, "set", "initialize params override as path=value (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		return 1
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	root := *rootFlag
	if root == "" {
		root = cfg.Server.RootPath
	}
	if root == "" {
		if root, err = workspace.DetectRoot("."); err != nil {
			fmt.Fprintf(os.Stderr, "Error: detect workspace root: %v\n", err)
			return 1
		}
	}

	srv, err := lsprpc.Start(lsprpc.ServerBinary{
		Path: cfg.Server.Command,
		Args: cfg.Server.Args,
		Env:  cfg.Server.Env,
	}, root, lsprpc.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		Logger:         logger,
		CaptureStderr:  cfg.Trace.CaptureStderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer srv.Kill()

	sessionID := uuid.NewString()
	logger.Info("trace session", "session", sessionID, "server", srv.Name(), "root", srv.RootPath())

	var store *tracestore.Store
	if cfg.Trace.DBPath != "" {
		store, err = tracestore.Open(cfg.Trace.DBPath)
		if err == nil {
			err = store.Init(context.Background())
		}
		if err == nil {
			err = store.BeginSession(context.Background(), sessionID, srv.Name(), srv.RootPath())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open trace store: %v\n", err)
			return 1
		}
		defer store.Close()
	}

	sub := srv.OnIO(func(kind lsprpc.IOKind, text string) {
		printFrame(kind, text, cfg.Trace.Pretty)
		if store != nil {
			if err := store.Record(context.Background(), sessionID, kind.String(), text); err != nil {
				logger.Warn("record trace event", "error", err)
			}
		}
	})
	defer sub.Close()

	registerHandlers(srv, logger)

	params, err := initializeParams(root, sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	var initResult json.RawMessage
	if err := srv.Request(ctx, "initialize", params, &initResult); err != nil {
		fmt.Fprintf(os.Stderr, "Error: initialize: %v\n", err)
		return 1
	}
	if err := srv.Notify("initialized", struct{}{}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: initialized: %v\n", err)
		return 1
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		logger.Info("interrupted, shutting down")
		_ = srv.Request(ctx, "shutdown", nil, nil)
		_ = srv.Notify("exit", nil)
	case err := <-srv.Done():
		logger.Warn("server exited", "error", err)
	}

	if cfg.Trace.CaptureStderr {
		if text := srv.Stderr(); text != "" {
			fmt.Fprintf(os.Stderr, "--- server stderr ---\n%s", text)
		}
	}
	return 0
}

// initializeParams builds the initialize request params, applying -set
// overrides on top of the defaults.
func initializeParams(root string, sets setFlags) (json.RawMessage, error) {
	params := []byte(`{"capabilities":{}}`)

	params, err := sjson.SetBytes(params, "processId", os.Getpid())
	if err != nil {
		return nil, err
	}
	params, err = sjson.SetBytes(params, "rootUri", "file://"+root)
	if err != nil {
		return nil, err
	}

	for _, kv := range sets {
		path, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("-set %q: want path=value", kv)
		}
		// Values that parse as JSON keep their type; everything else is a
		// string.
		var parsed any
		if json.Unmarshal([]byte(value), &parsed) == nil {
			params, err = sjson.SetBytes(params, path, parsed)
		} else {
			params, err = sjson.SetBytes(params, path, value)
		}
		if err != nil {
			return nil, fmt.Errorf("-set %q: %w", kv, err)
		}
	}
	return params, nil
}

// registerHandlers wires the server-initiated methods a trace session is
// likely to see, so they show up as handled rather than dropped.
func registerHandlers(srv *lsprpc.Server, logger *slog.Logger) {
	srv.OnNotification("window/showMessage", func(params json.RawMessage) {
		var msg struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if json.Unmarshal(params, &msg) == nil {
			logger.Info("server message", "type", msg.Type, "message", msg.Message)
		}
	}).Detach()

	srv.OnNotification("window/logMessage", func(params json.RawMessage) {
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(params, &msg) == nil {
			logger.Debug("server log", "message", msg.Message)
		}
	}).Detach()

	srv.OnRequest("window/workDoneProgress/create", func(params json.RawMessage) (any, error) {
		return nil, nil
	}).Detach()

	srv.OnRequest("workspace/configuration", func(params json.RawMessage) (any, error) {
		var req struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(params, &req)
		return make([]any, len(req.Items)), nil
	}).Detach()
}

func printFrame(kind lsprpc.IOKind, text string, prettify bool) {
	prefix := map[lsprpc.IOKind]string{
		lsprpc.IOIn:  "<--",
		lsprpc.IOOut: "-->",
		lsprpc.IOErr: "err",
	}[kind]

	if kind == lsprpc.IOErr {
		fmt.Printf("%s %s", prefix, text)
		return
	}
	body := text
	if prettify {
		body = string(pretty.Pretty([]byte(text)))
	}
	fmt.Printf("%s %s", prefix, body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Println()
	}
}

// newLogger builds the tool logger from config: text to stderr by default,
// or appended to a log file when one is configured.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	closeLog := func() {}
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeLog = func() { f.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeLog, nil
}
