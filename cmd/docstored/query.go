package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docstored/internal/embeddings"
	"github.com/fyrsmithlabs/docstored/internal/search"
)

var (
	queryTopK      int
	queryThreshold float32
)

var queryCmd = &cobra.Command{
	Use:   "query <collection> <text>",
	Short: "Search a knowledge base by similarity",
	Long: `Embed the query text and return the most similar chunks from a
knowledge base. Requires an embedding provider; see the "embedding"
config section.

Examples:
  docstored query docs "how do I rotate the signing key"
  docstored query docs --top-k 3 "retention policy"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if a.cfg.Embedding.Provider == "none" {
			return fmt.Errorf("querying requires an embedding provider")
		}
		client, err := embeddings.NewClient(a.cfg.Embedding)
		if err != nil {
			return err
		}
		vector, err := client.EmbedQuery(ctx, args[1])
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}

		matches, err := a.registry.Search().Search(ctx, search.Query{
			Collection: args[0],
			Embedding:  vector,
			Threshold:  queryThreshold,
			TopK:       queryTopK,
		})
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for i, m := range matches {
			text := m.Chunk.Text
			if idx := strings.IndexByte(text, '\n'); idx >= 0 {
				text = text[:idx]
			}
			fmt.Printf("%2d. %.4f  %s\n", i+1, m.Similarity, text)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "maximum results (default 10)")
	queryCmd.Flags().Float32Var(&queryThreshold, "threshold", 0, "exclude matches at or below this similarity")
}
