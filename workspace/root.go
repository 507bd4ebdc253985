// Package workspace locates the root path handed to a language server.
// Most servers want the project root, which in practice means the
// enclosing git worktree when there is one.
package workspace

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// DetectRoot resolves the workspace root for path: the root of the
// enclosing git worktree if one exists, otherwise path itself when it is a
// directory, otherwise its parent directory.
func DetectRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	start := abs
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		start = filepath.Dir(abs)
	}

	repo, err := git.PlainOpenWithOptions(start, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return start, nil
		}
		return "", err
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repository: no worktree to speak of, fall back.
		return start, nil
	}
	return wt.Filesystem.Root(), nil
}
