// Package evidence assembles multi-probe evidence packs.
//
// Plan turns a question into a handful of probes (code searches, symbol
// lookups and file globs). A Runner executes them against an Index, and
// Synthesize merges the per-probe doc-packs into a categorized Markdown
// report with file:line citations. Every pack is bounded to
// MaxTotalLines non-blank excerpt lines.
package evidence
