package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/dshills/repoqa/internal/chunker"
	"github.com/dshills/repoqa/internal/parser"
	"github.com/dshills/repoqa/internal/repoio"
	"github.com/dshills/repoqa/pkg/types"
)

// Indexer runs the ingest stage: read -> chunk -> CodeMap.
type Indexer struct {
	chunker *chunker.Chunker
}

// Options controls one Ingest run.
type Options struct {
	Repo         string   // repository name; defaults to the root's base name
	Include      []string // nil uses repoio.DefaultInclude
	Exclude      []string // nil uses repoio.DefaultExclude
	MaxFileBytes int64    // default repoio.DefaultMaxBytes
	Logger       *slog.Logger
	OnProgress   func(Progress)
}

// Progress reports ingest progress after each file.
type Progress struct {
	TotalFiles     int
	ProcessedFiles int
	Path           string
}

// Statistics contains statistics about one ingest run.
type Statistics struct {
	FilesIndexed     int
	FilesSkipped     int
	SymbolsExtracted int
	ChunksCreated    int
	Duration         time.Duration
	ErrorMessages    []string
}

// Result is the output of Ingest.
type Result struct {
	Root    string
	CodeMap *types.CodeMap
	Chunks  []types.Chunk
	Stats   Statistics
}

// New creates an Indexer.
func New() *Indexer {
	return &Indexer{chunker: chunker.New()}
}

// Ingest enumerates, reads and chunks the files under root. The commit is
// the short git HEAD or repoio.FallbackCommit. Ingesting the same
// snapshot twice yields identical chunk ids and CodeMap.
func (idx *Indexer) Ingest(ctx context.Context, root string, opts Options) (*Result, error) {
	started := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = repoio.DefaultMaxBytes
	}

	realRoot, err := repoio.RealRoot(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	repo := opts.Repo
	if repo == "" {
		repo = filepath.Base(realRoot)
	}

	files, err := repoio.ListSourceFiles(realRoot, opts.Include, opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	commit := repoio.CommitID(ctx, realRoot)

	cm := &types.CodeMap{
		Repo:        repo,
		Commit:      commit,
		Files:       make([]string, 0, len(files)),
		Deps:        make(map[string][]string),
		SymbolIndex: make(map[string][]string),
	}
	res := &Result{Root: realRoot, CodeMap: cm}
	stats := &res.Stats

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := repoio.ReadTextFile(realRoot, f, maxBytes)
		if err != nil {
			stats.FilesSkipped++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", f, err))
			logger.Warn("skipping unreadable file", "path", f, "kind", types.Kind(err), "error", err)
			idx.progress(opts, len(files), i+1, f)
			continue
		}

		cm.Files = append(cm.Files, f)
		lang := parser.DetectLanguage(f)
		if imports := parser.ExtractImports(lang, text); len(imports) > 0 {
			cm.Deps[f] = imports
		}
		symbols := parser.ExtractSymbols(lang, text)
		for _, s := range symbols {
			cm.SymbolIndex[s] = append(cm.SymbolIndex[s], f)
		}

		fileChunks := FilterBlank(idx.chunker.ChunkFile(repo, commit, f, text))
		res.Chunks = append(res.Chunks, fileChunks...)

		stats.FilesIndexed++
		stats.SymbolsExtracted += len(symbols)
		stats.ChunksCreated += len(fileChunks)
		idx.progress(opts, len(files), i+1, f)
	}

	for s, paths := range cm.SymbolIndex {
		sort.Strings(paths)
		cm.SymbolIndex[s] = paths
	}
	chunker.AssignNeighbors(res.Chunks, cm)

	stats.Duration = time.Since(started)
	logger.Info("ingest complete",
		"repo", repo,
		"commit", commit,
		"files", stats.FilesIndexed,
		"skipped", stats.FilesSkipped,
		"chunks", stats.ChunksCreated,
		"duration", stats.Duration)
	return res, nil
}

func (idx *Indexer) progress(opts Options, total, done int, path string) {
	if opts.OnProgress != nil {
		opts.OnProgress(Progress{TotalFiles: total, ProcessedFiles: done, Path: path})
	}
}

// FilterBlank returns the chunks whose text is not empty or whitespace.
func FilterBlank(chunks []types.Chunk) []types.Chunk {
	out := chunks[:0:0]
	for _, c := range chunks {
		if !types.IsBlank(c.Text) {
			out = append(out, c)
		}
	}
	return out
}

// TextEmbedder encodes chunk text.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error)
}

// Embed drops blank chunks and embeds the rest, returning the kept chunks
// and one vector per kept chunk in the same order.
func Embed(ctx context.Context, emb TextEmbedder, chunks []types.Chunk, dim int) ([]types.Chunk, [][]float32, error) {
	kept := FilterBlank(chunks)
	if len(kept) == 0 {
		return nil, nil, types.ErrIndexEmpty
	}
	texts := make([]string, len(kept))
	for i, c := range kept {
		texts[i] = c.Text
	}
	vectors, err := emb.EmbedTexts(ctx, texts, dim)
	if err != nil {
		return nil, nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(kept) {
		return nil, nil, fmt.Errorf("%w: got %d vectors for %d chunks", types.ErrEmbeddingFatal, len(vectors), len(kept))
	}
	return kept, vectors, nil
}
