package parser

import (
	"path"
	"strings"
)

// Language tags.
const (
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangGo         = "go"
	LangTerraform  = "terraform"
	LangSQL        = "sql"
	LangMarkdown   = "markdown"
	LangOther      = "other"
)

var extLanguages = map[string]string{
	".py":       LangPython,
	".pyi":      LangPython,
	".js":       LangJavaScript,
	".jsx":      LangJavaScript,
	".mjs":      LangJavaScript,
	".cjs":      LangJavaScript,
	".ts":       LangTypeScript,
	".tsx":      LangTypeScript,
	".mts":      LangTypeScript,
	".cts":      LangTypeScript,
	".go":       LangGo,
	".tf":       LangTerraform,
	".tfvars":   LangTerraform,
	".hcl":      LangTerraform,
	".sql":      LangSQL,
	".pls":      LangSQL,
	".plsql":    LangSQL,
	".pks":      LangSQL,
	".pkb":      LangSQL,
	".md":       LangMarkdown,
	".markdown": LangMarkdown,
	".mdx":      LangMarkdown,
	".java":     "java",
	".kt":       "kotlin",
	".kts":      "kotlin",
	".scala":    "scala",
	".rs":       "rust",
	".c":        "c",
	".h":        "c",
	".cc":       "cpp",
	".cpp":      "cpp",
	".cxx":      "cpp",
	".hpp":      "cpp",
	".cs":       "csharp",
	".rb":       "ruby",
	".php":      "php",
	".swift":    "swift",
	".dart":     "dart",
	".r":        "r",
	".lua":      "lua",
	".pl":       "perl",
	".sh":       "shell",
	".bash":     "shell",
	".zsh":      "shell",
	".ps1":      "powershell",
	".yaml":     "yaml",
	".yml":      "yaml",
	".json":     "json",
	".toml":     "toml",
	".ini":      "ini",
	".cfg":      "ini",
	".xml":      "xml",
	".html":     "html",
	".htm":      "html",
	".css":      "css",
	".scss":     "scss",
	".less":     "less",
	".vue":      "vue",
	".svelte":   "svelte",
	".proto":    "protobuf",
	".graphql":  "graphql",
	".gql":      "graphql",
	".txt":      "text",
	".rst":      "text",
}

var nameLanguages = map[string]string{
	"dockerfile":   "dockerfile",
	"makefile":     "make",
	"gnumakefile":  "make",
	"jenkinsfile":  "groovy",
	"vagrantfile":  "ruby",
	"rakefile":     "ruby",
	"gemfile":      "ruby",
	"procfile":     "text",
	"cmakelists":   "cmake",
	"requirements": "text",
}

// DetectLanguage returns the language tag for p based on its extension.
func DetectLanguage(p string) string {
	base := path.Base(p)
	if lang, ok := extLanguages[strings.ToLower(path.Ext(base))]; ok {
		return lang
	}
	name := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
	if lang, ok := nameLanguages[name]; ok {
		return lang
	}
	return LangOther
}

// IsStructural reports whether lang has a structure-aware splitter.
func IsStructural(lang string) bool {
	switch lang {
	case LangPython, LangJavaScript, LangTypeScript, LangGo, LangTerraform, LangSQL, LangMarkdown:
		return true
	}
	return false
}
