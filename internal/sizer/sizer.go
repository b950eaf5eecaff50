// Package sizer measures a repository checkout and estimates how many
// chunks and vectors indexing it would produce.
package sizer

import (
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dshills/repoqa/internal/parser"
	"github.com/dshills/repoqa/internal/repoio"
	"github.com/dshills/repoqa/pkg/types"
)

// Defaults for the chunk estimate.
const (
	DefaultChunkLOC   = 300
	DefaultOverlapLOC = 50
)

// Options controls measurement.
type Options struct {
	ChunkLOC     int
	OverlapLOC   int
	MaxFileBytes int64
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkLOC <= 0 {
		o.ChunkLOC = DefaultChunkLOC
	}
	if o.OverlapLOC < 0 {
		o.OverlapLOC = 0
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = repoio.DefaultMaxBytes
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// FileMetrics are the measurements of one file.
type FileMetrics struct {
	Path  string
	Lang  string
	Bytes int64
	Chars int
	LOC   int
}

// EstimateChunks returns max(1, ceil(loc / max(1, chunkLOC - overlapLOC))).
func EstimateChunks(loc, chunkLOC, overlapLOC int) int {
	step := max(1, chunkLOC-overlapLOC)
	return max(1, (loc+step-1)/step)
}

// CountLOC counts non-blank lines.
func CountLOC(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// MeasureText measures already-decoded file text.
func MeasureText(path, text string) FileMetrics {
	return FileMetrics{
		Path:  path,
		Lang:  parser.DetectLanguage(path),
		Bytes: int64(len(text)),
		Chars: utf8.RuneCountInString(text),
		LOC:   CountLOC(text),
	}
}

// Measure reads files under root and aggregates a report. A nil files
// slice lists the repository with the default globs. Unreadable files
// are skipped and logged.
func Measure(root string, files []string, opts Options) (types.SizerReport, error) {
	opts = opts.withDefaults()
	if files == nil {
		listed, err := repoio.ListSourceFiles(root, nil, nil)
		if err != nil {
			return types.SizerReport{}, err
		}
		files = listed
	}

	metrics := make([]FileMetrics, 0, len(files))
	for _, f := range files {
		text, err := repoio.ReadTextFile(root, f, opts.MaxFileBytes)
		if err != nil {
			opts.Logger.Warn("sizer skipped file", "path", f, "kind", types.Kind(err), "error", err)
			continue
		}
		metrics = append(metrics, MeasureText(f, text))
	}
	return Aggregate(metrics, opts.ChunkLOC, opts.OverlapLOC), nil
}

// Aggregate folds per-file metrics into a SizerReport.
func Aggregate(metrics []FileMetrics, chunkLOC, overlapLOC int) types.SizerReport {
	r := types.SizerReport{Languages: make(map[string]types.LanguageStats)}
	var chars int64
	for _, m := range metrics {
		r.FileCount++
		r.LOCTotal += m.LOC
		r.BytesTotal += m.Bytes
		chars += int64(m.Chars)
		r.MaxFileLOC = max(r.MaxFileLOC, m.LOC)
		r.ChunkEstimate += EstimateChunks(m.LOC, chunkLOC, overlapLOC)

		ls := r.Languages[m.Lang]
		ls.Files++
		ls.LOC += m.LOC
		r.Languages[m.Lang] = ls
	}
	if r.FileCount > 0 {
		r.AvgFileLOC = math.Round(float64(r.LOCTotal)/float64(r.FileCount)*100) / 100
	}
	r.EstimatedTokens = chars / 4
	r.VectorCountEstimate = r.ChunkEstimate
	return r
}
