package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dshills/repoqa/internal/parser"
	"github.com/dshills/repoqa/pkg/types"
)

const (
	// TargetSize is the preferred chunk length in characters
	TargetSize = 2400

	// SoftCap is the hard upper bound on chunk length
	SoftCap = types.MaxChunkChars

	// OverlapSize is the overlap between consecutive windows in characters
	OverlapSize = 480

	// CharsPerLine converts character budgets into line counts
	CharsPerLine = 80
)

// Window is a 1-based inclusive line range of a file and its text.
type Window struct {
	StartLine int
	EndLine   int
	Text      string
}

// Chunker creates chunks from file text.
type Chunker struct {
	parser *parser.Parser
}

// New creates a new Chunker instance
func New() *Chunker {
	return &Chunker{parser: parser.New()}
}

// NewWithParser creates a Chunker that shares p.
func NewWithParser(p *parser.Parser) *Chunker {
	return &Chunker{parser: p}
}

// block is a 0-based half-open line range [start, end).
type block struct {
	start, end int
	level      int
}

// Split returns the windows for one file.
func (c *Chunker) Split(path, lang, text string) []Window {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}
	bounds, ok := c.parser.Boundaries(lang, path, text)
	if !ok {
		return lineWindows(lines, 0, len(lines))
	}

	blocks := toBlocks(bounds, lines, lang != parser.LangMarkdown)
	var out []Window
	var group *block
	flush := func() {
		if group == nil {
			return
		}
		if blockLen(lines, group.start, group.end) > SoftCap {
			out = append(out, lineWindows(lines, group.start, group.end)...)
		} else if w, ok := makeWindow(lines, group.start, group.end); ok {
			out = append(out, w)
		}
		group = nil
	}

	for i := range blocks {
		b := blocks[i]
		forceNew := lang == parser.LangMarkdown && b.level == 1
		if group != nil && !forceNew && blockLen(lines, group.start, b.end) <= TargetSize {
			group.end = b.end
			continue
		}
		flush()
		group = &block{start: b.start, end: b.end, level: b.level}
	}
	flush()
	return out
}

// ChunkFile splits text and wraps each window into a Chunk with its
// stable id, symbols, imports and hash. Neighbors are left empty.
func (c *Chunker) ChunkFile(repo, commit, path, text string) []types.Chunk {
	lang := parser.DetectLanguage(path)
	windows := c.Split(path, lang, text)
	chunks := make([]types.Chunk, 0, len(windows))
	for _, w := range windows {
		chunks = append(chunks, types.Chunk{
			ID:        types.ChunkID(repo, commit, path, w.StartLine, w.EndLine),
			Repo:      repo,
			Commit:    commit,
			Path:      path,
			Lang:      lang,
			StartLine: w.StartLine,
			EndLine:   w.EndLine,
			Text:      w.Text,
			Symbols:   parser.ExtractSymbols(lang, w.Text),
			Imports:   parser.ExtractImports(lang, w.Text),
			Hash:      types.ContentHash(w.Text),
		})
	}
	return chunks
}

// splitLines splits text into lines without a phantom trailing line and
// with carriage returns removed.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// headerLine matches unindented lines that introduce the code below them:
// imports, comments and decorators.
var headerLine = regexp.MustCompile(`^(?:import\s|from\s+\S+\s+import\b|#|//|--|/\*|@)`)

// toBlocks converts boundaries into contiguous blocks covering every
// line. With leadIn set, header lines directly above a boundary open the
// block that follows them rather than closing the one before.
func toBlocks(bounds []parser.Boundary, lines []string, leadIn bool) []block {
	n := len(lines)
	if len(bounds) == 0 {
		return []block{{start: 0, end: n}}
	}
	starts := make([]int, len(bounds))
	for i, b := range bounds {
		switch {
		case i == 0:
			starts[i] = 0
		case leadIn:
			starts[i] = headerStart(lines, bounds[i-1].Line+1, b.Line)
		default:
			starts[i] = b.Line
		}
	}
	blocks := make([]block, 0, len(bounds))
	for i, b := range bounds {
		start := starts[i]
		end := n
		if i+1 < len(bounds) {
			end = starts[i+1]
		}
		if end <= start || start >= n {
			continue
		}
		blocks = append(blocks, block{start: start, end: end, level: b.Level})
	}
	return blocks
}

// headerStart walks up from line over blank and header lines, never
// above floor, and returns the first header line found or line itself.
func headerStart(lines []string, floor, line int) int {
	start := min(line, len(lines))
	for j := start - 1; j >= floor; j-- {
		if types.IsBlank(lines[j]) {
			continue
		}
		if !headerLine.MatchString(lines[j]) {
			break
		}
		start = j
	}
	return start
}

// blockLen is the length of lines[start:end] joined with newlines.
func blockLen(lines []string, start, end int) int {
	n := 0
	for i := start; i < end; i++ {
		n += len(lines[i])
	}
	if end > start {
		n += end - start - 1
	}
	return n
}

// makeWindow trims blank edge lines from [start, end) and builds a
// window. It reports false when nothing but whitespace remains.
func makeWindow(lines []string, start, end int) (Window, bool) {
	for start < end && types.IsBlank(lines[start]) {
		start++
	}
	for end > start && types.IsBlank(lines[end-1]) {
		end--
	}
	if start >= end {
		return Window{}, false
	}
	return Window{
		StartLine: start + 1,
		EndLine:   end,
		Text:      strings.Join(lines[start:end], "\n"),
	}, true
}

// lineWindows splits [from, to) into windows of at most TargetSize /
// CharsPerLine lines and SoftCap characters, overlapping by up to
// OverlapSize / CharsPerLine lines. Lines longer than SoftCap are cut.
func lineWindows(lines []string, from, to int) []Window {
	maxLines := max(1, TargetSize/CharsPerLine)
	overlap := OverlapSize / CharsPerLine

	var out []Window
	for i := from; i < to; {
		var buf []string
		size := 0
		j := i
		for j < to && len(buf) < maxLines {
			line := lines[j]
			if len(line) > SoftCap {
				line = truncate(line, SoftCap)
			}
			add := len(line)
			if len(buf) > 0 {
				add++
			}
			if len(buf) > 0 && size+add > SoftCap {
				break
			}
			buf = append(buf, line)
			size += add
			j++
		}
		if w, ok := makeWindow(buf, 0, len(buf)); ok {
			w.StartLine += i
			w.EndLine += i
			if n := len(out); n == 0 || out[n-1].StartLine != w.StartLine || out[n-1].EndLine != w.EndLine {
				out = append(out, w)
			}
		}
		if j >= to {
			break
		}
		taken := j - i
		step := taken - min(overlap, taken/2)
		i += max(1, step)
	}
	return out
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
