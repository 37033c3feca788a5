package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/dao"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
)

var pyermDescription = `
pyerm records machine learning experiments into a single SQLite file:
method and dataset parameters, run status, results, images and per-run details.

This command serves the stored experiments over HTTP and runs maintenance jobs
such as merging, exporting, cleaning and backing up experiment databases.
`

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:               "pyerm <command> [flags]",
	Short:             "experiment record manager.",
	Long:              pyermDescription,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if strings.TrimSpace(dbPath) != "" {
			cfg.DB.Path = dbPath
		}
		config.AppConfig = cfg
		config.InitLogger()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "config/config.yaml", "path of the yaml config file")
	flags.StringVar(&dbPath, "db", "", "experiment database path, defaults to db.path in config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(cleanCmd)
}

// openDatabase 打开 --db 或配置中的数据库。
func openDatabase(ctx context.Context) (*dao.Database, error) {
	path := config.Current().DB.Path
	database, err := dao.OpenDatabase(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return database, nil
}
