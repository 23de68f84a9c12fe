package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/models"
)

func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show gateway and scan history statistics",
		Long:  `Aggregate the audit trail and scan history into summary statistics.`,
		RunE:  runStatsCmd,
	}

	cmd.Flags().DurationP("timeout", "t", time.Minute, "Query timeout")

	return cmd
}

func runStatsCmd(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := commandContext(timeout)
	defer cancel()

	application, err := buildApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Close()

	gwStats, err := application.gateway.Stats(ctx)
	if err != nil {
		return fmt.Errorf("gateway stats: %w", err)
	}
	histStats := application.history.Stats(ctx)
	datasetInfo, datasetErr := application.dataset.Info()

	fmt.Println("Gateway Statistics:")
	fmt.Println(strings.Repeat("=", 63))
	fmt.Printf("Total Scanned:     %d\n", gwStats.TotalScanned)
	fmt.Printf("Quarantined:       %d\n", gwStats.QuarantinedCount)
	fmt.Printf("Average Score:     %.1f\n", gwStats.AverageScore)
	printBreakdown(gwStats.RiskLevelBreakdown)

	if len(gwStats.RecentHighRisk) > 0 {
		fmt.Println("\nRecent High-Risk Entries:")
		for _, e := range gwStats.RecentHighRisk {
			fmt.Printf("  %s  %-30s %s score=%d risk=%s\n",
				e.Timestamp.Format(time.RFC3339), e.Key, e.Action, e.SecurityScore, e.RiskLevel)
		}
	}

	fmt.Println("\nScan History:")
	fmt.Println(strings.Repeat("=", 63))
	fmt.Printf("Total Scans:       %d\n", histStats.TotalScans)
	fmt.Printf("Average Score:     %.1f\n", histStats.AverageScore)
	printBreakdown(histStats.RiskLevelBreakdown)
	if len(histStats.RecentCritical) > 0 {
		fmt.Printf("Recent Critical:   %d in the last 24h\n", len(histStats.RecentCritical))
	}

	fmt.Println("\nDataset:")
	fmt.Println(strings.Repeat("=", 63))
	if datasetErr != nil {
		fmt.Printf("Unavailable: %v\n", datasetErr)
	} else {
		fmt.Printf("Version:           %s\n", datasetInfo.Version)
		fmt.Printf("Vulnerabilities:   %d\n", datasetInfo.Vulnerabilities)
		fmt.Printf("Signatures:        %d\n", datasetInfo.Signatures)
		fmt.Printf("Loaded At:         %s\n", datasetInfo.LoadedAt.Format(time.RFC3339))
	}

	return nil
}

func printBreakdown(breakdown map[string]int) {
	fmt.Println("Risk Breakdown:")
	for _, level := range []string{models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical} {
		fmt.Printf("  %-9s %d\n", level, breakdown[level])
	}
}
