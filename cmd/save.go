package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/brensch/vdparquet/internal/saver"

	"github.com/spf13/cobra"
)

var saveOutDir string

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Export the run ledger to Parquet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := requireLedger()
		if err != nil {
			return err
		}
		out := saveOutDir
		if out == "" {
			out = filepath.Join(appConfig.BaseDir, "export")
		}
		path, err := saver.SaveLedger(context.Background(), ledger.DB(), out, getLogger())
		if err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveOutDir, "out", "o", "", "Output directory (default <base-dir>/export)")
}
