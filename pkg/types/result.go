package types

import "fmt"

// RetrievalResult is one ranked hit from the retriever.
type RetrievalResult struct {
	ChunkID   string   `json:"chunk_id"`
	Path      string   `json:"path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Score     float64  `json:"score"`
	Neighbors []string `json:"neighbors,omitempty"`
	Snippet   string   `json:"snippet"`
}

// DocItem is one entry of a doc-pack.
type DocItem struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Excerpt   string  `json:"excerpt"`
}

// Record is embedded in every host-facing operation result.
type Record struct {
	Status []string `json:"status"`
	Error  string   `json:"error,omitempty"`
}

// Logf appends a status line.
func (r *Record) Logf(format string, args ...any) {
	r.Status = append(r.Status, sprintf(format, args...))
}

// Fail records err as the user-facing error message.
func (r *Record) Fail(err error) {
	if err == nil {
		return
	}
	r.Error = err.Error()
}

// StatusLog returns the status lines recorded so far.
func (r *Record) StatusLog() []string {
	return r.Status
}

// Failed reports whether the operation recorded an error.
func (r *Record) Failed() bool {
	return r.Error != ""
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
