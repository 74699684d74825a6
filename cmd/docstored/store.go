package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docstored/internal/catalog"
	"github.com/fyrsmithlabs/docstored/internal/ingest"
)

var storeCollection string

var storeCmd = &cobra.Command{
	Use:   "store <file>...",
	Short: "Store files into a knowledge base",
	Long: `Store files into a knowledge base. Content is deduplicated by hash;
storing the same bytes twice reuses the existing record.

Examples:
  docstored store --collection docs report.md
  docstored store --collection docs *.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if _, err := a.registry.Catalog().CreateKnowledgeBase(ctx, storeCollection, ""); err != nil {
			return err
		}

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			filename := filepath.Base(path)
			rec, err := a.registry.Pipeline().StoreFile(ctx, ingest.Request{
				Collection:  storeCollection,
				Filename:    filename,
				ContentType: mime.TypeByExtension(filepath.Ext(filename)),
				Data:        data,
			})
			switch {
			case errors.Is(err, catalog.ErrDuplicateContent):
				fmt.Printf("%-40s duplicate of %s\n", filename, rec.ID)
			case err != nil:
				return fmt.Errorf("storing %s: %w", path, err)
			default:
				fmt.Printf("%-40s stored as %s (%s, %d bytes)\n",
					filename, rec.ID, rec.StorageKind, rec.Size)
			}
		}

		if _, err := a.registry.Cascade().RecomputeStats(ctx, storeCollection); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeCollection, "collection", "", "target knowledge base (required)")
	_ = storeCmd.MarkFlagRequired("collection")
}
