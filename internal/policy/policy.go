// Package policy decides whether a repository needs dense embeddings and
// where the vectors should live.
//
// Decide is a pure function: it reads only its arguments and performs no
// I/O. Every firing rule appends one reason string. Thresholds are
// inclusive.
package policy

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/dshills/repoqa/pkg/types"
)

// Rule A thresholds: any one enables embeddings.
const (
	EmbedLOCThreshold    = 80_000
	EmbedFileThreshold   = 1_500
	EmbedVectorThreshold = 8_000
	EmbedTokensThreshold = 1_500_000
)

// Rule B thresholds: any one selects the external backend.
const (
	ExternalVectorThreshold            = 50_000
	ExternalBytesThreshold             = 1_500_000_000
	ExternalConcurrentSessions         = 3
	ExternalConcurrentVectorsThreshold = 20_000
)

// Inputs are the optional policy inputs beyond the report.
type Inputs struct {
	ExpectedConcurrentSessions int
	ReuseRepoAcrossSessions    bool
}

// DefaultInputs assumes one session and no reuse.
func DefaultInputs() Inputs {
	return Inputs{ExpectedConcurrentSessions: 1}
}

func comma(n int64) string {
	return humanize.Comma(n)
}

// Decide applies the vectorization rules to r.
func Decide(r types.SizerReport, in Inputs) types.Decision {
	d := types.Decision{Backend: types.BackendInMemory, Reasons: []string{}}

	if r.LOCTotal >= EmbedLOCThreshold {
		d.UseEmbeddings = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("Large codebase: %s LOC >= %s threshold", comma(int64(r.LOCTotal)), comma(EmbedLOCThreshold)))
	}
	if r.FileCount >= EmbedFileThreshold {
		d.UseEmbeddings = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("High file count: %s files >= %s threshold", comma(int64(r.FileCount)), comma(EmbedFileThreshold)))
	}
	if r.VectorCountEstimate >= EmbedVectorThreshold {
		d.UseEmbeddings = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("High vector count: %s vectors >= %s threshold", comma(int64(r.VectorCountEstimate)), comma(EmbedVectorThreshold)))
	}
	if r.EstimatedTokens >= EmbedTokensThreshold {
		d.UseEmbeddings = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("High token count: %s tokens >= %s threshold", comma(r.EstimatedTokens), comma(EmbedTokensThreshold)))
	}
	if !d.UseEmbeddings {
		d.Reasons = append(d.Reasons, "No embeddings needed for small repository")
		return d
	}

	external := false
	if r.VectorCountEstimate >= ExternalVectorThreshold {
		external = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("Large vector count: %s vectors >= %s requires external backend", comma(int64(r.VectorCountEstimate)), comma(ExternalVectorThreshold)))
	}
	if r.BytesTotal >= ExternalBytesThreshold {
		external = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("Large repository size: %s bytes >= 1.5GB requires external backend", comma(r.BytesTotal)))
	}
	if in.ExpectedConcurrentSessions >= ExternalConcurrentSessions && r.VectorCountEstimate >= ExternalConcurrentVectorsThreshold {
		external = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("High concurrency: %d sessions + %s vectors requires external backend", in.ExpectedConcurrentSessions, comma(int64(r.VectorCountEstimate))))
	}
	if in.ReuseRepoAcrossSessions {
		external = true
		d.Reasons = append(d.Reasons, "Repository reuse across sessions requires external backend for persistence")
	}

	if external {
		d.Backend = types.BackendExternal
	} else {
		d.Reasons = append(d.Reasons, "Using in-memory backend for manageable size and low concurrency")
	}
	return d
}
