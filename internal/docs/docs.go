// Package docs persists generated answers as Markdown documents, on the
// local filesystem and optionally in S3-compatible object storage.
package docs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// DefaultDir is where generated documents are written, relative to the
// working directory.
var DefaultDir = filepath.Join("docs", "generated")

// MaxSlugLen bounds the file name stem derived from a query.
const MaxSlugLen = 50

// Sink stores one named document.
type Sink interface {
	// Put stores content under name and returns its location.
	Put(ctx context.Context, name string, content []byte) (string, error)
	Kind() string
}

// Slug derives a file name stem from a query: lowercased, runs of
// non-alphanumerics collapsed to "-", at most MaxSlugLen characters.
func Slug(query string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := []rune(strings.TrimRight(b.String(), "-"))
	if len(s) > MaxSlugLen {
		s = []rune(strings.TrimRight(string(s[:MaxSlugLen]), "-"))
	}
	if len(s) == 0 {
		return "answer"
	}
	return string(s)
}

// Render formats an answer document.
func Render(query, answer string, sources []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n## Sources\n\n", query, strings.TrimSpace(answer))
	for _, s := range sources {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	return []byte(b.String())
}

// Local writes documents into a directory.
type Local struct {
	dir string
}

// NewLocal creates a Local sink rooted at dir (DefaultDir when empty).
func NewLocal(dir string) *Local {
	if dir == "" {
		dir = DefaultDir
	}
	return &Local{dir: dir}
}

func (l *Local) Kind() string { return "local" }

// Put writes dir/name, creating dir as needed.
func (l *Local) Put(_ context.Context, name string, content []byte) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("create docs dir: %w", err)
	}
	p := filepath.Join(l.dir, filepath.Base(name))
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// Result reports where a document was written.
type Result struct {
	Path     string   `json:"path"`
	Mirrors  []string `json:"mirrors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Writer writes to a primary sink and mirrors to any extra sinks. Mirror
// failures become warnings.
type Writer struct {
	primary Sink
	mirrors []Sink
	logger  *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(primary Sink, logger *slog.Logger, mirrors ...Sink) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{primary: primary, mirrors: mirrors, logger: logger}
}

// WriteAnswer renders and stores an answer under "<slug>.md".
func (w *Writer) WriteAnswer(ctx context.Context, query, answer string, sources []string) (*Result, error) {
	name := Slug(query) + ".md"
	content := Render(query, answer, sources)

	p, err := w.primary.Put(ctx, name, content)
	if err != nil {
		return nil, err
	}
	res := &Result{Path: p}
	for _, m := range w.mirrors {
		loc, err := m.Put(ctx, name, content)
		if err != nil {
			w.logger.Warn("docs mirror failed", "sink", m.Kind(), "name", name, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s upload failed: %v", m.Kind(), err))
			continue
		}
		res.Mirrors = append(res.Mirrors, loc)
	}
	return res, nil
}
