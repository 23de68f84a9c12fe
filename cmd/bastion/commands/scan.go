package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bastionhq/bastion/pkg/models"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [file]",
		Short: "Scan a single artifact and print its security assessment",
		Long: `Scan a file with the vulnerability, malware, secrets, and dependency
detectors and print the composite security score, risk level, and findings.`,
		Args: cobra.ExactArgs(1),
		RunE: runScanCmd,
	}

	cmd.Flags().StringP("name", "n", "", "Package name (defaults to the file basename)")
	cmd.Flags().String("pkg-version", "", "Package version (enables result caching)")
	cmd.Flags().StringSliceP("dep", "d", nil, "Declared dependency as name=version (repeatable)")
	cmd.Flags().Bool("json", false, "Emit the full scan result as JSON")
	cmd.Flags().DurationP("timeout", "t", 5*time.Minute, "Scan timeout")

	_ = viper.BindPFlag("scan.json", cmd.Flags().Lookup("json"))

	return cmd
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	path := args[0]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(path)
	}
	pkgVersion, _ := cmd.Flags().GetString("pkg-version")
	depFlags, _ := cmd.Flags().GetStringSlice("dep")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	deps, err := parseDeps(depFlags)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(timeout)
	defer cancel()

	application, err := buildApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Close()

	logrus.Infof("Scanning %s", path)
	result, err := application.scanner.Scan(ctx, models.ArtifactInput{
		Name:         name,
		Version:      pkgVersion,
		Content:      content,
		Dependencies: deps,
		Path:         path,
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if viper.GetBool("scan.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printScanResult(result)
	return nil
}

func printScanResult(result *models.ScanResult) {
	fmt.Printf("Scan %s\n", result.ScanID)
	fmt.Println(strings.Repeat("=", 63))
	fmt.Printf("Package:         %s@%s\n", result.PackageName, result.PackageVersion)
	fmt.Printf("Security Score:  %d/100\n", result.SecurityScore)
	fmt.Printf("Risk Level:      %s\n", result.RiskLevel)
	fmt.Printf("Action Required: %s\n", result.ActionRequired)
	fmt.Printf("Duration:        %dms\n", result.ScanDurationMs)

	counts := result.Findings.Counts()
	fmt.Printf("\nFindings: %d vulnerabilities, %d malware, %d suspicious patterns, %d secrets, %d dependencies\n",
		counts.Vulnerabilities, counts.Malware, counts.SuspiciousPatterns, counts.Secrets, counts.Dependencies)

	for _, v := range result.Findings.Vulnerabilities {
		fmt.Printf("  [vuln]    %s %s (%s) %s\n", v.Severity, v.Package, v.ID, v.CVE)
	}
	for _, m := range result.Findings.Malware {
		fmt.Printf("  [malware] %s signature %s: %s\n", m.Severity, m.SignatureID, m.Description)
	}
	for _, p := range result.Findings.SuspiciousPatterns {
		fmt.Printf("  [pattern] %s (%d occurrences)\n", p.Pattern, p.Occurrences)
	}
	for _, s := range result.Findings.Secrets {
		fmt.Printf("  [secret]  %s %s at %s (entropy %.2f)\n", s.Severity, s.Type, s.Location, s.Entropy)
	}
	for _, d := range result.Findings.Dependencies {
		fmt.Printf("  [dep]     %s %s@%s (%s)\n", d.Severity, d.Name, d.Version, d.Kind)
	}

	if len(result.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, r := range result.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}

	fmt.Println("\nCompliance:")
	for _, std := range []string{"owasp", "nist", "iso27001", "pci"} {
		status := "FAIL"
		if result.ComplianceStatus[std] {
			status = "PASS"
		}
		fmt.Printf("  %-9s %s\n", std, status)
	}
}

func parseDeps(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	deps := make(map[string]string, len(flags))
	for _, f := range flags {
		name, version, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid dependency %q, expected name=version", f)
		}
		deps[name] = version
	}
	return deps, nil
}
