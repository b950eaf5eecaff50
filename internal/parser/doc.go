// Package parser detects source languages and finds structural
// boundaries, symbols and imports in source text.
//
// Languages are detected from the file extension only. Structural
// boundaries come from three sources:
//
//   - tree-sitter grammars for Python, JavaScript and TypeScript
//   - go/parser for Go
//   - line-anchored regular expressions for Terraform, SQL and Markdown
//
// # Basic Usage
//
//	p := parser.New()
//	lang := parser.DetectLanguage("src/app.py")
//	bounds, ok := p.Boundaries(lang, text)
//	if !ok {
//	    // fall back to line windows
//	}
//
// A Python file that does not parse reports ok=false so callers fall back
// to plain line windows. Other languages degrade to whatever boundaries
// could be recovered.
//
// Symbols and imports are extracted with per-language regular
// expressions, deduplicated in order of first appearance and capped at
// MaxSymbols and MaxImports.
package parser
