package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/repoqa/internal/orchestrator"
	"github.com/dshills/repoqa/internal/vectorstore"
	"github.com/dshills/repoqa/pkg/types"
)

// result is the part of every orchestrator record the CLI needs.
type result interface {
	Failed() bool
	StatusLog() []string
}

// runOp opens an orchestrator, runs op and prints its record.
func (a *app) runOp(cmd *cobra.Command, op func(ctx context.Context, o *orchestrator.Orchestrator) (result, string)) error {
	ctx := cmd.Context()
	o, closeAll, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	res, markdown := op(ctx, o)
	if err := a.print(res, markdown); err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("%s failed", cmd.Name())
	}
	return nil
}

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Enumerate and chunk the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOp(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (result, string) {
				res := o.Ingest(ctx)
				md := fmt.Sprintf("## %s @ %s\n\n- files: %s\n- chunks: %s\n- skipped: %d\n",
					res.Repo, res.Commit, humanize.Comma(int64(len(res.Files))),
					humanize.Comma(int64(res.ChunkCount)), res.FilesSkipped)
				return res, md
			})
		},
	}
}

func newSizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Measure the repository and print the embedding decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOp(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (result, string) {
				res := o.SizeAndDecide(ctx)
				return res, sizeMarkdown(res.Report, res.Decision)
			})
		},
	}
}

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the hybrid index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOp(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (result, string) {
				res := o.Index(ctx)
				md := fmt.Sprintf("Indexed **%s** vectors using `%s` for session `%s`.\n",
					humanize.Comma(int64(res.VectorCount)), res.Backend, res.SessionID)
				return res, md
			})
		},
	}
}

func newAskCmd(a *app) *cobra.Command {
	var (
		k         int
		writeDocs bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return a.runOp(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (result, string) {
				res := o.Ask(ctx, query, k, writeDocs)
				var b strings.Builder
				fmt.Fprintf(&b, "%s\n\n## Sources\n\n", res.Answer)
				for _, s := range res.Sources {
					fmt.Fprintf(&b, "- `%s`\n", s)
				}
				fmt.Fprintf(&b, "\n_model: %s, ~%d tokens_\n", res.ModelUsed, res.TokenCount)
				return res, b.String()
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", orchestrator.DefaultK, "passages to retrieve")
	cmd.Flags().BoolVar(&writeDocs, "write-docs", false, "also write the answer to the docs directory")
	return cmd
}

func newEvidenceCmd(a *app) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "evidence <query>",
		Short: "Print the doc pack of excerpts most relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return a.runOp(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (result, string) {
				res := o.CollectEvidence(ctx, query, k)
				return res, docPackMarkdown("Evidence: "+query, res.DocPack)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 20, "passages to retrieve")
	return cmd
}

func newAssembleCmd(a *app) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "assemble <question>",
		Short: "Run targeted probes and print a categorized evidence report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return a.runOp(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (result, string) {
				res := o.AssembleEvidence(ctx, query, k)
				return res, res.Answer
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 20, "passages per probe")
	return cmd
}

func newSynopsisCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "synopsis",
		Short: "Print overview evidence: readme, entry points, routes and dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOp(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (result, string) {
				res := o.RepoSynopsis(ctx)
				return res, docPackMarkdown("Repository synopsis", res.DocPack)
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		// No config is needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repoqa %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", vectorstore.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", vectorstore.DriverName)
			fmt.Fprintf(out, "Schema Version: %s\n", vectorstore.CurrentSchemaVersion)
		},
	}
}

func sizeMarkdown(r types.SizerReport, d types.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Sizing\n\n| metric | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| files | %s |\n", humanize.Comma(int64(r.FileCount)))
	fmt.Fprintf(&b, "| lines | %s |\n", humanize.Comma(int64(r.LOCTotal)))
	fmt.Fprintf(&b, "| bytes | %s |\n", humanize.Bytes(uint64(r.BytesTotal)))
	fmt.Fprintf(&b, "| estimated tokens | %s |\n", humanize.Comma(r.EstimatedTokens))
	fmt.Fprintf(&b, "| estimated chunks | %s |\n", humanize.Comma(int64(r.ChunkEstimate)))
	fmt.Fprintf(&b, "| estimated vectors | %s |\n", humanize.Comma(int64(r.VectorCountEstimate)))
	fmt.Fprintf(&b, "\n## Decision\n\nuse embeddings: **%t**, backend: `%s`\n\n", d.UseEmbeddings, d.Backend)
	for _, reason := range d.Reasons {
		fmt.Fprintf(&b, "- %s\n", reason)
	}
	return b.String()
}

func docPackMarkdown(title string, items []types.DocItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("_no evidence found_\n")
	}
	for _, it := range items {
		fmt.Fprintf(&b, "### %s:%d-%d (%.3f)\n\n```\n%s\n```\n\n", it.Path, it.StartLine, it.EndLine, it.Score, it.Excerpt)
	}
	return b.String()
}
