package cmd

import (
	"fmt"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <source.db>",
	Short: "merge another experiment database into the current one",
	Long: `Copy every row of the source database into the database selected by --db.
Tables missing in the target are created first. Rows that violate a unique
constraint, such as a repeated remark, are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dst, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer dst.Close()

		src, err := dao.OpenDatabase(ctx, args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer src.Close()

		pb := progressbar.Default(int64(src.TableCount()), "merging")
		report, err := service.MergeDatabases(ctx, dst, src, func(string) {
			_ = pb.Add(1)
		})
		_ = pb.Finish()
		if report != nil {
			fmt.Printf("tables: %d, created: %d, copied: %d, skipped: %d\n",
				report.Tables, report.Created, report.Copied, report.Skipped)
		}
		return err
	},
}
