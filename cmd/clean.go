package cmd

import (
	"errors"
	"fmt"

	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/spf13/cobra"
)

var (
	cleanFailed bool
	cleanImages string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "delete failed experiments or clear images of unfinished runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cleanFailed && cleanImages == "" {
			return errors.New("nothing to clean, use --failed or --images <task>")
		}
		database, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		maintenance := service.NewMaintenanceService(database)
		if cleanFailed {
			deleted, err := maintenance.DeleteFailedExperiments(cmd.Context())
			fmt.Printf("deleted %d failed experiments\n", deleted)
			if err != nil {
				return err
			}
		}
		if cleanImages != "" {
			rows, err := maintenance.DeleteUselessImages(cmd.Context(), cleanImages)
			if err != nil {
				return err
			}
			fmt.Printf("cleared images of %d result rows\n", rows)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanFailed, "failed", false, "delete failed experiments with their results and details")
	cleanCmd.Flags().StringVar(&cleanImages, "images", "", "clear image slots of unfinished runs in result_<task>")
}
