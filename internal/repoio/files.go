package repoio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/repoqa/pkg/types"
)

// DefaultInclude is used when no include globs are given.
var DefaultInclude = []string{"src/**", "configs/**", "docs/**"}

// IgnoreDirs are dependency, build and cache directories that are never walked.
var IgnoreDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true, ".bzr": true,
	"node_modules": true, "vendor": true, "venv": true, ".venv": true,
	"__pycache__": true, "build": true, "dist": true, "target": true,
	"bin": true, "obj": true, "out": true, ".vscode": true, ".idea": true,
	"logs": true, "tmp": true, "temp": true, ".tmp": true,
	".npm": true, ".yarn": true, ".pnpm-store": true,
}

// IgnoreFiles are lockfiles and OS litter excluded by default.
var IgnoreFiles = map[string]bool{
	"package-lock.json": true, "yarn.lock": true, "poetry.lock": true,
	"Pipfile.lock": true, "Cargo.lock": true, "go.sum": true,
	"composer.lock": true, "pnpm-lock.yaml": true, ".DS_Store": true,
}

// BinaryExtensions are treated as binary without reading content.
var BinaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".tiff": true, ".psd": true,
	".pdf": true, ".zip": true, ".gz": true, ".tgz": true, ".bz2": true,
	".xz": true, ".7z": true, ".rar": true, ".tar": true, ".jar": true,
	".war": true, ".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".a": true, ".o": true, ".class": true, ".pyc": true, ".pyo": true,
	".wasm": true, ".bin": true, ".dat": true, ".db": true, ".sqlite": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true,
	".ogg": true, ".flac": true, ".webm": true,
}

// DefaultExclude returns the default exclude globs.
func DefaultExclude() []string {
	out := make([]string, 0, len(IgnoreDirs)+len(IgnoreFiles)+len(BinaryExtensions))
	for d := range IgnoreDirs {
		out = append(out, "**/"+d+"/**")
	}
	for f := range IgnoreFiles {
		out = append(out, "**/"+f)
	}
	for ext := range BinaryExtensions {
		out = append(out, "**/*"+ext)
	}
	sort.Strings(out)
	return out
}

// RealRoot resolves root to an absolute, symlink-free directory path.
func RealRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root %s is not a directory", root)
	}
	return real, nil
}

// within reports whether p is realRoot or below it.
func within(realRoot, p string) bool {
	rel, err := filepath.Rel(realRoot, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Resolve joins rel onto root and returns the real absolute path,
// failing with ErrPathTraversal when the result leaves the root.
func Resolve(root, rel string) (string, error) {
	realRoot, err := RealRoot(root)
	if err != nil {
		return "", err
	}
	return resolveUnder(realRoot, rel)
}

func resolveUnder(realRoot, rel string) (string, error) {
	if filepath.IsAbs(rel) || path.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s is absolute", types.ErrPathTraversal, rel)
	}
	joined := filepath.Join(realRoot, filepath.FromSlash(rel))
	if !within(realRoot, joined) {
		return "", fmt.Errorf("%w: %s", types.ErrPathTraversal, rel)
	}
	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	if !within(realRoot, real) {
		return "", fmt.Errorf("%w: %s resolves to %s", types.ErrPathTraversal, rel, real)
	}
	return real, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ListSourceFiles walks root and returns sorted POSIX paths relative to
// root that match any include glob and no exclude glob. Nil include or
// exclude selects the defaults. Ignored directories are never descended.
func ListSourceFiles(root string, include, exclude []string) ([]string, error) {
	realRoot, err := RealRoot(root)
	if err != nil {
		return nil, err
	}
	if include == nil {
		include = DefaultInclude
	}
	if exclude == nil {
		exclude = DefaultExclude()
	}
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob %q", p)
		}
	}

	var files []string
	err = filepath.WalkDir(realRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == realRoot {
			return nil
		}
		rel, err := filepath.Rel(realRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if IgnoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if IgnoreFiles[d.Name()] {
			return nil
		}
		if !matchAny(include, rel) || matchAny(exclude, rel) {
			return nil
		}
		real, err := resolveUnder(realRoot, rel)
		if errors.Is(err, types.ErrPathTraversal) {
			return err
		}
		if err != nil {
			// Dangling or unreadable link: skip the file, keep the listing.
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if info, err := os.Stat(real); err != nil || info.IsDir() {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
