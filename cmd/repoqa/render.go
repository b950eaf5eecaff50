package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
)

const wrapWidth = 100

// print writes the status log to stderr and the result to stdout, as JSON
// with --json and as rendered markdown otherwise.
func (a *app) print(res result, markdown string) error {
	a.printStatus(res.StatusLog())
	if a.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.Failed() {
		return nil
	}
	return renderMarkdown(os.Stdout, markdown, a.plain)
}

func (a *app) printStatus(status []string) {
	for _, s := range status {
		fmt.Fprintf(os.Stderr, "· %s\n", s)
	}
}

// renderMarkdown styles md for the terminal with glamour, writing it
// unchanged when plain is set or rendering fails.
func renderMarkdown(w io.Writer, md string, plain bool) error {
	if !plain {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wrapWidth),
		)
		if err == nil {
			if out, err := r.Render(md); err == nil {
				_, err = io.WriteString(w, out)
				return err
			}
		}
	}
	_, err := io.WriteString(w, md)
	return err
}
