package lsprpc

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestWorkingDirFor(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.go")
	if err := os.WriteFile(file, []byte("package main\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		root string
		want string
	}{
		{"directory", dir, dir},
		{"file", file, dir},
		{"missing path", filepath.Join(dir, "nope.txt"), dir},
		{"bare name", "nowhere.txt", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := workingDirFor(tt.root); got != tt.want {
				t.Errorf("workingDirFor(%q) = %q, want %q", tt.root, got, tt.want)
			}
		})
	}
}

func TestBinaryName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/usr/bin/gopls", "gopls"},
		{"gopls", "gopls"},
		{".", ""},
	}

	for _, tt := range tests {
		if got := binaryName(tt.path); got != tt.want {
			t.Errorf("binaryName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSpawnFailure(t *testing.T) {
	_, err := Spawn(ServerBinary{Path: "/no/such/language-server"}, t.TempDir())

	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("Spawn() error = %v, want *SpawnError", err)
	}
	if se.Path != "/no/such/language-server" {
		t.Errorf("SpawnError.Path = %q", se.Path)
	}
	if se.Dir == "" {
		t.Error("SpawnError.Dir is empty")
	}
}

func TestSpawnAndKill(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	root := t.TempDir()
	p, err := Spawn(ServerBinary{Path: catPath, Env: map[string]string{"LSP_TEST": "1"}}, root)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if p.Name() != "cat" {
		t.Errorf("Name() = %q, want %q", p.Name(), "cat")
	}
	if p.WorkingDir() != root {
		t.Errorf("WorkingDir() = %q, want %q", p.WorkingDir(), root)
	}
	if p.RootPath() != root {
		t.Errorf("RootPath() = %q, want %q", p.RootPath(), root)
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	// Idempotent, including after the process is gone.
	select {
	case <-p.Wait():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
	if err := p.Kill(); err != nil {
		t.Errorf("second Kill() error = %v", err)
	}
}
