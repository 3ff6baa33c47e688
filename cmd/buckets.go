package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kilianp07/wastefleet/core/evaluator"
	"github.com/kilianp07/wastefleet/core/fleet"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/pkg/export"
)

var (
	bucketsUser   string
	bucketsFormat string
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List buckets with their fill and health",
	Args:  cobra.NoArgs,
	RunE:  listBuckets,
}

func init() {
	bucketsCmd.Flags().StringVarP(&bucketsUser, "user", "u", "", "only list buckets owned by this user")
	bucketsCmd.Flags().StringVarP(&bucketsFormat, "format", "f", "table", "output format (table, csv, json)")
	rootCmd.AddCommand(bucketsCmd)
}

func listBuckets(cmd *cobra.Command, _ []string) error {
	switch bucketsFormat {
	case "table", "csv", "json":
	default:
		return fmt.Errorf("unknown format %q", bucketsFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := docstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	var bs []model.Bucket
	if bucketsUser != "" {
		bs, err = st.ListBucketsByOwner(ctx, bucketsUser)
	} else {
		bs, err = st.ListBuckets(ctx)
	}
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	switch bucketsFormat {
	case "csv":
		return export.WriteCSV(cmd.OutOrStdout(), bs)
	case "json":
		return export.WriteJSON(cmd.OutOrStdout(), bs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tOWNER\tFILL\tSTATUS\tBATTERY\tONLINE\tASSIGNED\tUPDATED")
	for _, b := range bs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\t%s\t%s%%\t%t\t%t\t%s\n",
			b.BucketID, b.Name, b.UserID,
			humanize.FtoaWithDigits(b.FillPercentage, 1),
			evaluator.ClassifyFillStatus(b.FillPercentage),
			humanize.FtoaWithDigits(b.Health.BatteryLevel, 0),
			b.Health.IsOnline, b.IsAssigned,
			humanize.Time(b.LastUpdated))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	sum := fleet.Summarise(bs)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "\n%s buckets, %s full, %s assigned, mean fill %s%%\n",
		humanize.Comma(int64(sum.Buckets)), humanize.Comma(int64(sum.Full)),
		humanize.Comma(int64(sum.Assigned)), humanize.FtoaWithDigits(sum.MeanFill, 1))
	return err
}
