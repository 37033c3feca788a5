package cmd

import (
	"fmt"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	exportOut string
	exportZip bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "export every table and view to CSV, with result images as PNG files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		exporter := service.NewExportService(database, config.Current().Export.Workers)
		pb := progressbar.Default(int64(len(database.TableNames())+len(database.ViewNames())), "exporting")
		exporter.OnRelation = func(string) {
			_ = pb.Add(1)
		}
		report, err := exporter.Export(cmd.Context(), exportOut, exportZip)
		_ = pb.Finish()
		if err != nil {
			return err
		}
		fmt.Printf("exported %d relations and %d images to %s\n", len(report.Relations), report.Images, report.Path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", ".", "output directory")
	exportCmd.Flags().BoolVar(&exportZip, "zip", false, "pack the export into a zip archive")
}
