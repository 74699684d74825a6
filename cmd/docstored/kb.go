package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge bases",
}

func init() {
	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbCreateCmd)
	kbCmd.AddCommand(kbDeleteCmd)
	kbCmd.AddCommand(kbClearCmd)
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge bases with their counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		kbs, err := a.registry.Catalog().ListKnowledgeBases(ctx)
		if err != nil {
			return err
		}
		if len(kbs) == 0 {
			fmt.Println("no knowledge bases")
			return nil
		}
		for _, kb := range kbs {
			fmt.Printf("%-32s  documents=%-6d chunks=%-6d %s\n",
				kb.Name, kb.DocumentCount, kb.ChunkCount, kb.Description)
		}
		return nil
	},
}

var kbCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a knowledge base (no-op if it already exists)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		description, _ := cmd.Flags().GetString("description")
		kb, err := a.registry.Catalog().CreateKnowledgeBase(ctx, args[0], description)
		if err != nil {
			return err
		}
		fmt.Printf("knowledge base %q ready (id %s)\n", kb.Name, kb.ID)
		return nil
	},
}

var kbDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a knowledge base and all its files, chunks, and blobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.registry.Cascade().DeleteKnowledgeBase(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted knowledge base %q\n", args[0])
		return nil
	},
}

var kbClearCmd = &cobra.Command{
	Use:   "clear <name>",
	Short: "Remove all content from a knowledge base, keeping the base itself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.registry.Cascade().ClearKnowledgeBase(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("cleared knowledge base %q\n", args[0])
		return nil
	},
}

func init() {
	kbCreateCmd.Flags().String("description", "", "knowledge base description")
}
