package types

import "errors"

// Error kinds surfaced by the pipeline.
var (
	// Repo I/O
	ErrPathTraversal = errors.New("path escapes repository root")
	ErrTooLarge      = errors.New("file exceeds size limit")
	ErrBinaryFile    = errors.New("binary file")
	ErrDecode        = errors.New("unable to decode file text")

	// Backends
	ErrNotConfigured      = errors.New("backend not configured")
	ErrEmbeddingTransient = errors.New("transient embedding failure")
	ErrEmbeddingFatal     = errors.New("embedding request failed")
	ErrBackendUnavailable = errors.New("vector backend unavailable")

	// Pipeline
	ErrIndexEmpty   = errors.New("no chunks to index")
	ErrInvalidState = errors.New("invalid pipeline state")

	// Validation
	ErrInvalidChunk     = errors.New("invalid chunk")
	ErrInvalidDimension = errors.New("embedding dimension must be in 1..768")
	ErrEmptyText        = errors.New("text cannot be empty or whitespace")
	ErrSessionNotFound  = errors.New("session not found")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrPathTraversal, "PathTraversal"},
	{ErrTooLarge, "TooLarge"},
	{ErrBinaryFile, "BinaryFile"},
	{ErrDecode, "Decode"},
	{ErrNotConfigured, "NotConfigured"},
	{ErrEmbeddingTransient, "EmbeddingTransient"},
	{ErrEmbeddingFatal, "EmbeddingFatal"},
	{ErrIndexEmpty, "IndexEmpty"},
	{ErrBackendUnavailable, "BackendUnavailable"},
	{ErrInvalidState, "InvalidState"},
}

// Kind returns the error kind name for err, or "Internal" when err does
// not wrap one of the kind sentinels. Kind(nil) is "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
