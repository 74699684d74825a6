package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docstored/internal/ingest"
)

var ingestCollection string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest files: store, chunk, embed, and index",
	Long: `Ingest files into a knowledge base through the full pipeline: the bytes
are stored content-addressed, the text is chunked and embedded, and the
chunks become searchable. Requires an embedding provider; see the
"embedding" config section.

Examples:
  docstored ingest --collection docs report.md
  docstored ingest --collection docs *.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			filename := filepath.Base(path)
			res, err := a.registry.Pipeline().IngestFile(ctx, ingest.Request{
				Collection:  ingestCollection,
				Filename:    filename,
				ContentType: mime.TypeByExtension(filepath.Ext(filename)),
				Data:        data,
			})
			if err != nil {
				if res != nil && res.TaskID != "" {
					return fmt.Errorf("ingesting %s (task %s): %w", path, res.TaskID, err)
				}
				return fmt.Errorf("ingesting %s: %w", path, err)
			}
			if res.Deduplicated {
				fmt.Printf("%-40s duplicate of %s\n", filename, res.File.ID)
				continue
			}
			fmt.Printf("%-40s %d chunks (task %s)\n", filename, res.ChunkCount, res.TaskID)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCollection, "collection", "", "target knowledge base (required)")
	_ = ingestCmd.MarkFlagRequired("collection")
}
