package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/brensch/vdparquet/internal/db"

	"github.com/spf13/cobra"
)

var (
	stateLimit    int
	stateEvent    string
	stateFileType string
	stateSummary  bool
)

var stateCmd = &cobra.Command{
	Use:   "state [YYYYMMDD]",
	Short: "View the run ledger",
	Long: `Queries the DuckDB run ledger and prints the most recent events, optionally
restricted to one day, a file type (gz, xml, csv, vdid, day, zip) or an event.
With --summary, prints event counts for the given day instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		ledger, err := requireLedger()
		if err != nil {
			return err
		}
		filter := db.Filter{
			FileType: strings.ToLower(stateFileType),
			Event:    stateEvent,
			Limit:    stateLimit,
		}
		if len(args) > 0 {
			filter.Day = args[0]
		}
		ctx := context.Background()

		if stateSummary {
			if filter.Day == "" {
				return fmt.Errorf("--summary needs a day argument")
			}
			counts, err := ledger.DaySummary(ctx, filter.Day)
			if err != nil {
				return err
			}
			events := make([]string, 0, len(counts))
			for e := range counts {
				events = append(events, e)
			}
			sort.Strings(events)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Events for %s\n", filter.Day)
			for _, e := range events {
				fmt.Fprintf(w, "  %-16s %d\n", e, counts[e])
			}
			return nil
		}

		logger.Debug("Querying run ledger", "day", filter.Day, "filetype", filter.FileType, "event", filter.Event, "limit", filter.Limit)
		return ledger.DisplayHistory(ctx, cmd.OutOrStdout(), filter)
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of events displayed")
	stateCmd.Flags().StringVarP(&stateEvent, "event", "e", "", "Filter by event (e.g. fetch_end, error, skip_transform)")
	stateCmd.Flags().StringVarP(&stateFileType, "filetype", "t", "", "Filter by file type (gz, xml, csv, vdid, day, zip)")
	stateCmd.Flags().BoolVar(&stateSummary, "summary", false, "Print event counts for the day instead of the event list")
}
