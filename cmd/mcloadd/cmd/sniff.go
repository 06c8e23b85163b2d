package cmd

import (
	"encoding/json"
	"os"

	"github.com/materials-commons/mcload/pkg/config"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcload/pkg/sniff"
	"github.com/spf13/cobra"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff <file>",
	Short: "Print the column names and first row of a local data file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		delimiter, _ := cmd.Flags().GetString("delimiter")
		noHeader, _ := cmd.Flags().GetBool("no-header")

		if delimiter == "" {
			delimiter = config.GetConfig().GetKeyWithDefault(config.KeyDefaultDelimiter, mcmodel.DefaultDelimiter)
		}

		setting := mcmodel.NewFileSetting()
		setting.Delimiter = delimiter
		setting.HasHeader = !noHeader

		columns, err := sniff.New().Sniff(args[0], setting)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(columns)
	},
}

func init() {
	rootCmd.AddCommand(sniffCmd)

	sniffCmd.Flags().String("delimiter", "", "column delimiter (env: MCLOAD_DEFAULT_DELIMITER, default \",\")")
	sniffCmd.Flags().Bool("no-header", false, "first line is data, not column names")
}
