package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// MaxChunkChars is the soft cap on chunk text length.
const MaxChunkChars = 3500

// Chunk is a bounded excerpt of one file.
type Chunk struct {
	ID        string   `json:"id"`
	Repo      string   `json:"repo"`
	Commit    string   `json:"commit"`
	Path      string   `json:"path"`
	Lang      string   `json:"lang"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Text      string   `json:"text"`
	Symbols   []string `json:"symbols,omitempty"`
	Imports   []string `json:"imports,omitempty"`
	Neighbors []string `json:"neighbors,omitempty"`
	Hash      string   `json:"hash"`
}

// ChunkID builds the stable chunk identifier "repo:commit:path#start-end".
func ChunkID(repo, commit, path string, start, end int) string {
	return fmt.Sprintf("%s:%s:%s#%d-%d", repo, commit, path, start, end)
}

// ContentHash hashes text after right-trimming every line, so trailing
// whitespace edits do not change the hash.
func ContentHash(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// IsBlank reports whether s is empty or whitespace-only.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Validate checks the chunk invariants.
func (c *Chunk) Validate() error {
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return fmt.Errorf("%w: line numbers must be positive", ErrInvalidChunk)
	}
	if c.StartLine > c.EndLine {
		return fmt.Errorf("%w: start line %d after end line %d", ErrInvalidChunk, c.StartLine, c.EndLine)
	}
	if IsBlank(c.Text) {
		return fmt.Errorf("%w: %v", ErrInvalidChunk, ErrEmptyText)
	}
	if len(c.Text) > MaxChunkChars {
		return fmt.Errorf("%w: text length %d exceeds %d", ErrInvalidChunk, len(c.Text), MaxChunkChars)
	}
	return nil
}

// Location renders the chunk as a "path:start-end" citation.
func (c *Chunk) Location() string {
	return fmt.Sprintf("%s:%d-%d", c.Path, c.StartLine, c.EndLine)
}
