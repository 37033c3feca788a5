package cmd

import (
	"fmt"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "upload a snapshot of the experiment database to the SFTP backup server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		result, err := service.NewBackupService(config.Current().Backup).Upload(cmd.Context(), database)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %d bytes to %s:%s in %s\n", result.Bytes, result.Host, result.TargetPath, result.Cost)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-name> <local-path>",
	Short: "download a backup file from the SFTP backup server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := service.NewBackupService(config.Current().Backup).Restore(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("restored %d bytes from %s:%s to %s\n", result.Bytes, result.Host, result.SourcePath, result.TargetPath)
		return nil
	},
}

func init() {
	backupCmd.AddCommand(restoreCmd)
}
