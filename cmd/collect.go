package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/wastefleet/core/dispatch"
	"github.com/kilianp07/wastefleet/core/dispatch/audit"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/infra/logger"
)

var collectStart bool

var collectCmd = &cobra.Command{
	Use:   "collect <request-id>",
	Short: "Mark a collection request collected (or started with --start)",
	Args:  cobra.ExactArgs(1),
	RunE:  collect,
}

func init() {
	collectCmd.Flags().BoolVar(&collectStart, "start", false, "move the request to in_progress instead of collected")
	rootCmd.AddCommand(collectCmd)
}

func collect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := docstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	selector, err := dispatch.NewSelector(cfg.Dispatch.Selector)
	if err != nil {
		return err
	}
	coord, err := dispatch.NewCoordinator(st, dispatch.StaticDirectory(cfg.Dispatch.Drivers), selector, cfg.Dispatch, logger.New("collect"))
	if err != nil {
		return err
	}
	if cfg.Dispatch.AuditPath != "" {
		al, err := audit.NewJSONLStore(cfg.Dispatch.AuditPath, cfg.Dispatch.AuditRotate)
		if err != nil {
			return fmt.Errorf("audit log: %w", err)
		}
		defer al.Close()
		coord.SetAuditLog(al)
	}

	ctx := commandContext(cmd)
	if collectStart {
		req, err := coord.StartCollection(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "request %s started by %s\n", req.ID, req.DriverID)
		return err
	}
	req, err := coord.MarkCollected(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "request %s collected, bucket %s emptied\n", req.ID, req.BucketID)
	return err
}
