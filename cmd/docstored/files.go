package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage stored files",
}

func init() {
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesGetCmd)
	filesCmd.AddCommand(filesDeleteCmd)
	filesGetCmd.Flags().StringVarP(&filesGetOutput, "output", "o", "", "write bytes to this path instead of stdout")
}

var filesListCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List a collection's files with their live chunk counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		infos, err := a.registry.Catalog().ListFiles(ctx, args[0])
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no files")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %-40s %8d bytes  chunks=%-4d %s\n",
				info.ID, info.Filename, info.Size, info.ChunkCount, info.StorageKind)
		}
		return nil
	},
}

var filesGetOutput string

var filesGetCmd = &cobra.Command{
	Use:   "get <file-id>",
	Short: "Retrieve a stored file's bytes",
	Long: `Retrieve the bytes of a stored file through the backend that holds
them, inline or external. Writes to stdout unless --output is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		rec, data, err := a.registry.Pipeline().FetchFile(ctx, args[0])
		if err != nil {
			return err
		}
		if filesGetOutput == "" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(filesGetOutput, data, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", filesGetOutput, err)
		}
		fmt.Printf("wrote %s (%d bytes) to %s\n", rec.Filename, len(data), filesGetOutput)
		return nil
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete <file-id>",
	Short: "Delete a file, its chunks, and its blob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.registry.Cascade().DeleteFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted file %s\n", args[0])
		return nil
	},
}
