package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/materials-commons/mcload/pkg/loadclient"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <file>...",
	Short: "Upload files to a running mcloadd server in chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		server, _ := flags.GetString("server")
		connID, _ := flags.GetInt("conn-id")
		name, _ := flags.GetString("name")
		chunkSize, _ := flags.GetInt64("chunk-size")
		concurrency, _ := flags.GetInt("concurrency")
		extract, _ := flags.GetBool("extract-columns")
		delimiter, _ := flags.GetString("delimiter")
		noHeader, _ := flags.GetBool("no-header")

		if name != "" && len(args) > 1 {
			return fmt.Errorf("--name can only be used with a single file")
		}

		client := loadclient.New(server, connID)
		client.ChunkSize = chunkSize
		client.Concurrency = concurrency

		ctx := context.Background()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		for _, path := range args {
			result, err := client.PushFile(ctx, path, name)
			if err != nil {
				return fmt.Errorf("push %s: %w", path, err)
			}

			log.WithFields(log.Fields{"upload_key": result.UploadKey, "id": result.ID}).Infof("Uploaded %s (%d bytes)", path, result.Size)

			if !extract {
				if err := enc.Encode(result); err != nil {
					return err
				}
				continue
			}

			fm, err := client.ExtractColumns(ctx, result.ID, delimiter, !noHeader)
			if err != nil {
				return fmt.Errorf("extract columns for %s: %w", path, err)
			}

			if err := enc.Encode(fm); err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().String("server", "http://localhost:1360", "mcloadd server url")
	pushCmd.Flags().Int("conn-id", 0, "connection the files belong to")
	pushCmd.Flags().String("name", "", "name to record for the file (defaults to the file's base name)")
	pushCmd.Flags().Int64("chunk-size", loadclient.DefaultChunkSize, "chunk size in bytes")
	pushCmd.Flags().Int("concurrency", loadclient.DefaultConcurrency, "chunks in flight at once")
	pushCmd.Flags().Bool("extract-columns", false, "extract columns once the upload is merged")
	pushCmd.Flags().String("delimiter", ",", "column delimiter used with --extract-columns")
	pushCmd.Flags().Bool("no-header", false, "first line is data, not column names")
}
