package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewRescanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescan [prefix]",
		Short: "Retroactively scan stored artifacts",
		Long: `Re-scan artifacts already in the primary namespace against the current
dataset and policy. Artifacts that now fail the policy are moved to
quarantine and removed from the primary namespace.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRescanCmd,
	}

	cmd.Flags().IntP("max-keys", "m", 0, "Maximum number of artifacts to rescan (0 = no limit)")
	cmd.Flags().DurationP("timeout", "t", 30*time.Minute, "Rescan timeout")

	return cmd
}

func runRescanCmd(cmd *cobra.Command, args []string) error {
	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}
	maxKeys, _ := cmd.Flags().GetInt("max-keys")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := commandContext(timeout)
	defer cancel()

	application, err := buildApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Close()

	logrus.Infof("Rescanning prefix %q", prefix)
	outcomes, err := application.gateway.Rescan(ctx, prefix, maxKeys)
	if err != nil {
		return fmt.Errorf("rescan failed: %w", err)
	}

	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var quarantined, failed int
	for _, key := range keys {
		o := outcomes[key]
		switch {
		case o.Error != "":
			failed++
			fmt.Printf("ERROR       %-40s %s\n", key, o.Error)
		case o.Quarantined:
			quarantined++
			fmt.Printf("QUARANTINED %-40s score=%d risk=%s\n", key, o.Result.SecurityScore, o.Result.RiskLevel)
		default:
			fmt.Printf("OK          %-40s score=%d risk=%s\n", key, o.Result.SecurityScore, o.Result.RiskLevel)
		}
	}

	fmt.Printf("\nRescanned %d artifacts: %d quarantined, %d errors\n", len(outcomes), quarantined, failed)
	return nil
}
