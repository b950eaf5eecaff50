package parser

import (
	"context"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"path"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Boundary marks the 0-based line where a top-level block starts.
// Level is the heading depth for Markdown and 0 otherwise.
type Boundary struct {
	Line  int
	Level int
}

// grammar pairs a tree-sitter language with the top-level node types
// that open a new block.
type grammar struct {
	lang  *sitter.Language
	nodes map[string]bool
}

var jsNodes = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"class_declaration":              true,
	"abstract_class_declaration":     true,
	"lexical_declaration":            true,
	"variable_declaration":           true,
	"export_statement":               true,
	"interface_declaration":          true,
	"type_alias_declaration":         true,
	"enum_declaration":               true,
	"module":                         true,
	"internal_module":                true,
}

var (
	terraformBlock = regexp.MustCompile(`^(resource|module|provider|data|variable|output|locals|terraform)\b`)
	sqlStatement   = regexp.MustCompile(`(?i)^\s*CREATE\s+(?:OR\s+REPLACE\s+)?(?:(?:GLOBAL\s+)?TEMP(?:ORARY)?\s+)?(?:MATERIALIZED\s+)?(?:UNIQUE\s+)?(TABLE|VIEW|FUNCTION|PROCEDURE|INDEX|TRIGGER|SCHEMA|DATABASE|PACKAGE|TYPE|SEQUENCE)\b`)
	mdHeading      = regexp.MustCompile(`^(#{1,6})\s`)
	mdFence        = regexp.MustCompile("^\\s*(```|~~~)")
)

// Parser finds structural boundaries in source text. It is safe for
// concurrent use; tree-sitter parsers are created per call.
type Parser struct {
	python     grammar
	javascript grammar
	typescript grammar
	tsx        grammar
}

// New creates a Parser with the bundled grammars.
func New() *Parser {
	return &Parser{
		python: grammar{
			lang: python.GetLanguage(),
			nodes: map[string]bool{
				"function_definition":  true,
				"class_definition":     true,
				"decorated_definition": true,
			},
		},
		javascript: grammar{lang: javascript.GetLanguage(), nodes: jsNodes},
		typescript: grammar{lang: typescript.GetLanguage(), nodes: jsNodes},
		tsx:        grammar{lang: tsx.GetLanguage(), nodes: jsNodes},
	}
}

// Boundaries returns the sorted block starts for text in lang. The
// second result is false when the caller must fall back to line windows:
// the language has no structural splitter or a Python file failed to
// parse. file is only consulted to pick the TSX grammar.
func (p *Parser) Boundaries(lang, file, text string) ([]Boundary, bool) {
	switch lang {
	case LangPython:
		return p.treeSitter(p.python, text, true)
	case LangJavaScript:
		return p.treeSitter(p.javascript, text, false)
	case LangTypeScript:
		if strings.EqualFold(path.Ext(file), ".tsx") {
			return p.treeSitter(p.tsx, text, false)
		}
		return p.treeSitter(p.typescript, text, false)
	case LangGo:
		return goBoundaries(text)
	case LangTerraform:
		return regexBoundaries(text, terraformBlock), true
	case LangSQL:
		return regexBoundaries(text, sqlStatement), true
	case LangMarkdown:
		return markdownBoundaries(text), true
	}
	return nil, false
}

func (p *Parser) treeSitter(g grammar, text string, strict bool) ([]Boundary, bool) {
	ps := sitter.NewParser()
	defer ps.Close()
	ps.SetLanguage(g.lang)

	tree, err := ps.ParseCtx(context.Background(), nil, []byte(text))
	if err != nil || tree == nil {
		return nil, false
	}
	defer tree.Close()

	root := tree.RootNode()
	if strict && root.HasError() {
		return nil, false
	}

	var out []Boundary
	last := -1
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child == nil || !g.nodes[child.Type()] {
			continue
		}
		line := int(child.StartPoint().Row)
		if line == last {
			continue
		}
		out = append(out, Boundary{Line: line})
		last = line
	}
	return out, true
}

func goBoundaries(text string) ([]Boundary, bool) {
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, "", text, goparser.ParseComments)
	if err != nil {
		return nil, false
	}
	var out []Boundary
	last := -1
	for _, decl := range file.Decls {
		if gd, ok := decl.(*ast.GenDecl); ok && gd.Tok == token.IMPORT {
			continue
		}
		pos := decl.Pos()
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Doc != nil {
				pos = d.Doc.Pos()
			}
		case *ast.GenDecl:
			if d.Doc != nil {
				pos = d.Doc.Pos()
			}
		}
		line := fset.Position(pos).Line - 1
		if line == last {
			continue
		}
		out = append(out, Boundary{Line: line})
		last = line
	}
	return out, true
}

func regexBoundaries(text string, re *regexp.Regexp) []Boundary {
	var out []Boundary
	for i, line := range strings.Split(text, "\n") {
		if re.MatchString(line) {
			out = append(out, Boundary{Line: i})
		}
	}
	return out
}

func markdownBoundaries(text string) []Boundary {
	var out []Boundary
	inFence := false
	for i, line := range strings.Split(text, "\n") {
		if mdFence.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := mdHeading.FindStringSubmatch(line); m != nil {
			out = append(out, Boundary{Line: i, Level: len(m[1])})
		}
	}
	return out
}
