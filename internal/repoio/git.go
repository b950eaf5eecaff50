package repoio

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FallbackCommit is used when the root is not a git checkout.
const FallbackCommit = "workspace"

// IsRemote reports whether src names a repository that must be cloned
// rather than a local directory.
func IsRemote(src string) bool {
	if strings.HasPrefix(src, "git@") {
		return true
	}
	u, err := url.Parse(src)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git", "file":
		return true
	}
	return false
}

// CloneSlug returns the directory name used for a clone of repoURL.
func CloneSlug(repoURL string) string {
	trimmed := strings.TrimRight(repoURL, "/")
	last := trimmed
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		last = trimmed[i+1:]
	}
	last = strings.TrimSuffix(last, ".git")
	if last == "" {
		last = "repo"
	}
	sum := sha1.Sum([]byte(repoURL))
	return last + "-" + hex.EncodeToString(sum[:])[:8]
}

// CloneRepo shallow-clones repoURL into <workspace>/repos/<slug> and
// returns the checkout path. An existing checkout is reused. When ref is
// non-empty it is fetched and checked out.
func CloneRepo(ctx context.Context, workspace, repoURL, ref string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	reposDir := filepath.Join(workspace, "repos")
	if err := os.MkdirAll(reposDir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	dest := filepath.Join(reposDir, CloneSlug(repoURL))

	if _, err := os.Stat(filepath.Join(dest, ".git")); err != nil {
		if _, err := runGit(ctx, "", "clone", "--depth", "1", repoURL, dest); err != nil {
			return "", fmt.Errorf("clone %s: %w", repoURL, err)
		}
	}
	if ref != "" {
		if _, err := runGit(ctx, "", "-C", dest, "fetch", "--depth", "1", "origin", ref); err != nil {
			return "", fmt.Errorf("fetch %s: %w", ref, err)
		}
		if _, err := runGit(ctx, "", "-C", dest, "checkout", ref); err != nil {
			return "", fmt.Errorf("checkout %s: %w", ref, err)
		}
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// CommitID returns the short HEAD commit of root, or FallbackCommit when
// root is not a git checkout or git is unavailable.
func CommitID(ctx context.Context, root string) string {
	out, err := runGit(ctx, root, "rev-parse", "--short", "HEAD")
	if err != nil || out == "" {
		return FallbackCommit
	}
	return out
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
