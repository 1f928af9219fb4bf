package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/brensch/vdparquet/internal/config"
	"github.com/brensch/vdparquet/internal/inspector"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [YYYYMMDD]",
	Short: "Summarize a day's VDID partitions with DuckDB",
	Long: `Reads every partition in <base-dir>/<day>/VDID with an in-memory DuckDB and
prints its row count, the number of snapshots (minutes) it covers and its
column count. The day must not have been zipped (run with --no-zip).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		day := ""
		if len(args) > 0 {
			day = args[0]
		} else {
			loc, err := appConfig.Location()
			if err != nil {
				return err
			}
			day = config.Yesterday(clockwork.NewRealClock(), loc)
		}

		conn, err := sql.Open("duckdb", "")
		if err != nil {
			return fmt.Errorf("open in-memory duckdb: %w", err)
		}
		defer conn.Close()

		if _, err := inspector.InspectDay(context.Background(), conn, appConfig.DayDir(day), cmd.OutOrStdout(), logger); err != nil {
			return fmt.Errorf("inspection failed: %w", err)
		}
		return nil
	},
}
