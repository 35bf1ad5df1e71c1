package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docbase-ai/docbase/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	lang     string
	minScore float64
	format   string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid query against the tenant index",
		Long: `Run a hybrid query: TF-IDF narrows the candidate documents, then
cosine similarity over embedded chunks ranks the final results.

Examples:
  docbase search "quarterly revenue" --tenant u1_acme_chat
  docbase search "onboarding checklist" --tenant u1_acme_chat --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 uses the configured topK)")
	cmd.Flags().StringVarP(&opts.lang, "language", "l", "", "Force the query language (ISO code)")
	cmd.Flags().Float64Var(&opts.minScore, "min-similarity", 0, "Minimum cosine similarity (0 uses the configured floor)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ti, err := a.openTenant(ctx, tenantArg)
	if err != nil {
		return err
	}

	engine := search.New(a.embedder, a.cfg.Retrieval)
	results, err := engine.Search(ctx,
		[]search.Shard{{Tfidf: ti.Tfidf, Vector: ti.Vector}},
		query,
		search.Options{
			TopKVectors:        opts.limit,
			MinDistanceVectors: opts.minScore,
			Lang:               opts.lang,
		})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s  (similarity %.3f, keyword score %.3f)\n",
			i+1, r.Metadata.DocID(""), r.Similarity, r.Score)
		text := r.Text
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(text, "\n", " "))
	}
	return nil
}
