package cmd

import (
	"os"

	"github.com/apex/log"
	"github.com/materials-commons/mcload/pkg/clog"
	"github.com/materials-commons/mcload/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	v   = viper.New()
	cfg = config.NewViperConfig(v)
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcloadd",
	Short: "Chunked data file uploads and column sniffing",
	Long: `mcloadd accepts data files uploaded as independent chunks, merges them
once every chunk has arrived and extracts column names and a sample row from
the merged file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The dotenv file only fills in what isn't already in the environment.
		if err := config.NewDotenvConfig(cfg.GetKey(config.KeyDotenvPath)).Load(); err != nil {
			return err
		}

		if configFile := v.GetString("config"); configFile != "" {
			if err := cfg.LoadFromPath(configFile); err != nil {
				return err
			}
		}

		config.SetConfig(cfg)

		return clog.Setup(os.Stderr, cfg.GetKey(config.KeyLogLevel))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("dotenv", "", "dotenv file to load (env: MCLOAD_DOTENV_PATH)")
	rootCmd.PersistentFlags().String("config", "", "optional config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (env: MCLOAD_LOG_LEVEL)")

	mustBind(rootCmd, config.KeyDotenvPath, "dotenv")
	mustBind(rootCmd, "config", "config")
	mustBind(rootCmd, config.KeyLogLevel, "log-level")
}

// mustBind ties a viper key to a persistent or local flag of cmd.
func mustBind(cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}

	if err := v.BindPFlag(key, f); err != nil {
		log.Fatalf("Unable to bind flag %s: %s", flag, err)
	}
}
