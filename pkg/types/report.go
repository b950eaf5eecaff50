package types

// Backend names the vector storage location chosen by policy.
type Backend string

const (
	BackendInMemory Backend = "in_memory"
	BackendExternal Backend = "external"
)

// LanguageStats is the per-language slice of a SizerReport.
type LanguageStats struct {
	Files int `json:"files"`
	LOC   int `json:"loc"`
}

// SizerReport holds repository size metrics.
type SizerReport struct {
	FileCount           int                      `json:"file_count"`
	LOCTotal            int                      `json:"loc_total"`
	BytesTotal          int64                    `json:"bytes_total"`
	Languages           map[string]LanguageStats `json:"language_breakdown"`
	AvgFileLOC          float64                  `json:"avg_file_loc"`
	MaxFileLOC          int                      `json:"max_file_loc"`
	EstimatedTokens     int64                    `json:"estimated_tokens_repo"`
	ChunkEstimate       int                      `json:"chunk_estimate"`
	VectorCountEstimate int                      `json:"vector_count_estimate"`
}

// Decision is the output of the vectorization policy.
type Decision struct {
	UseEmbeddings bool     `json:"use_embeddings"`
	Backend       Backend  `json:"backend"`
	Reasons       []string `json:"reasons"`
}
