package lsprpc

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// ServerBinary describes the language server executable to launch.
type ServerBinary struct {
	// Path is the executable to run.
	Path string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables, appended to the current
	// process environment.
	Env map[string]string
}

// Process owns a spawned language server subprocess: its handle, its three
// pipes, and the metadata recorded at spawn time. The pipes have exactly
// one consumer each; the transport takes them when the connection is wired
// and nothing else touches them.
type Process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	killed bool

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	name       string
	workingDir string
	rootPath   string

	waitCh chan error
}

// Spawn launches the server subprocess. The working directory is rootPath
// when it names a directory, otherwise rootPath's parent, falling back to
// the filesystem root. Failure to launch is reported as a *SpawnError
// carrying the attempted command line.
func Spawn(bin ServerBinary, rootPath string) (*Process, error) {
	workingDir := workingDirFor(rootPath)

	cmd := exec.Command(bin.Path, bin.Args...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	for k, v := range bin.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: bin.Path, Args: bin.Args, Dir: workingDir, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Path: bin.Path, Args: bin.Args, Dir: workingDir, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &SpawnError{Path: bin.Path, Args: bin.Args, Dir: workingDir, Err: err}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, &SpawnError{Path: bin.Path, Args: bin.Args, Dir: workingDir, Err: err}
	}

	p := &Process{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		name:       binaryName(bin.Path),
		workingDir: workingDir,
		rootPath:   rootPath,
		waitCh:     make(chan error, 1),
	}

	go func() {
		p.waitCh <- cmd.Wait()
	}()

	return p, nil
}

// workingDirFor derives the subprocess working directory from a root path.
func workingDirFor(rootPath string) string {
	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		return rootPath
	}
	if parent := filepath.Dir(rootPath); parent != "" && parent != rootPath {
		return parent
	}
	return string(os.PathSeparator)
}

// binaryName returns the display name for an executable path, or "" when
// one cannot be derived.
func binaryName(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(os.PathSeparator) {
		return ""
	}
	return base
}

// Kill forcefully terminates the subprocess. It is idempotent and safe to
// call after the process has already exited.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.killed {
		return nil
	}
	p.killed = true

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Name returns the executable's file name, or "" if unavailable.
func (p *Process) Name() string { return p.name }

// WorkingDir returns the working directory the subprocess was started in.
func (p *Process) WorkingDir() string { return p.workingDir }

// RootPath returns the root path the working directory was derived from.
func (p *Process) RootPath() string { return p.rootPath }

// Wait returns a channel that receives the subprocess exit result once.
func (p *Process) Wait() <-chan error { return p.waitCh }
