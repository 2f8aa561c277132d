package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/bjpl/deploycheck/internal/check"
	"github.com/bjpl/deploycheck/internal/site"
)

func main() {
	noPre := flag.Bool("no-pre", false, "Skip pre-deployment validation")
	noPost := flag.Bool("no-post", false, "Skip post-deployment health checks")
	noIntegration := flag.Bool("no-integration", false, "Skip integration tests")
	noSecurity := flag.Bool("no-security", false, "Skip security validation")
	noPerformance := flag.Bool("no-performance", false, "Skip performance benchmarks")
	noUAT := flag.Bool("no-uat", false, "Skip user-acceptance tests")
	noReport := flag.Bool("no-report", false, "Skip writing report artifacts")
	failFast := flag.Bool("fail-fast", false, "Stop at the first critical issue")
	timeoutSec := flag.Int("timeout", 300, "Per-suite timeout in seconds")
	reportDir := flag.String("report-dir", "reports", "Directory for report artifacts")
	buildDir := flag.String("build-dir", "", "Local build output directory for pre-deployment checks")
	environment := flag.String("environment", envOr("DEPLOY_ENV", "production"), "Environment label for reports")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write the final report JSON to this file")
	flag.Parse()

	baseURL := strings.TrimSpace(flag.Arg(0))
	if baseURL == "" {
		baseURL = envOr("DEPLOYED_URL", "")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL != "" && !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	cfg := check.DefaultRunConfig()
	cfg.BaseURL = baseURL
	cfg.RunPreDeploy = !*noPre
	cfg.RunPostDeploy = !*noPost
	cfg.RunIntegration = !*noIntegration
	cfg.RunSecurity = !*noSecurity
	cfg.RunPerformance = !*noPerformance
	cfg.RunUAT = !*noUAT
	cfg.FailFast = *failFast
	cfg.GenerateReport = !*noReport
	cfg.ReportDir = *reportDir
	cfg.BuildDir = *buildDir
	cfg.Environment = *environment
	if *timeoutSec > 0 {
		cfg.Timeout = time.Duration(*timeoutSec) * time.Second
	}

	client := site.NewClient(site.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*7)
	defer cancel()

	textMode := strings.ToLower(strings.TrimSpace(*format)) != "json"
	var onEvent func(check.Event)
	if textMode {
		fmt.Printf("Running deployment tests against %s\n\n", targetLabel(cfg.BaseURL))
		onEvent = narrate
	}

	report := check.RunWithEvents(ctx, client, cfg, onEvent)

	var artifacts []string
	if cfg.GenerateReport {
		artifacts = check.WriteArtifacts(report)
	}

	if textMode {
		printVerdict(report, artifacts)
	} else {
		printJSON(report)
	}

	if *outputPath != "" {
		if err := writeReport(*outputPath, report); err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to write report:", err)
		}
	}

	if !report.Success {
		os.Exit(1)
	}
}

func narrate(event check.Event) {
	switch event.Stage {
	case "suite_start":
		fmt.Printf("  %s %s...\n", color.CyanString("RUN "), event.Suite)
	case "suite_result":
		success, _ := event.Data["success"].(bool)
		warnings, _ := event.Data["warnings"].(bool)
		label := color.GreenString("PASS")
		if !success {
			label = color.RedString("FAIL")
		} else if warnings {
			label = color.YellowString("WARN")
		}
		fmt.Printf("  %s %s - %s (%vms)\n", label, event.Suite, event.Message, event.Data["duration_ms"])
	case "fail_fast":
		fmt.Printf("  %s critical issue after %s, skipping remaining suites\n",
			color.RedString("STOP"), event.Suite)
	}
}

func printVerdict(report check.Report, artifacts []string) {
	fmt.Println()
	fmt.Printf("Suites: %d passed, %d failed, %d with warnings\n",
		report.Summary.PassedTests, report.Summary.FailedTests, report.Summary.Warnings)
	fmt.Printf("Overall score: %.2f (%s)\n\n", report.Summary.OverallScore, report.Summary.Grade)

	if report.Success {
		color.New(color.FgGreen, color.Bold).Println("=== DEPLOYMENT READY ===")
	} else {
		color.New(color.FgRed, color.Bold).Println("=== DEPLOYMENT NOT RECOMMENDED ===")
		for _, issue := range report.Summary.CriticalIssues {
			fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Message)
		}
	}

	if len(report.Summary.Recommendations) > 0 {
		fmt.Println("\nTop recommendations:")
		for i, rec := range report.Summary.Recommendations {
			if i >= 5 {
				break
			}
			fmt.Printf("  %d. %s\n", i+1, rec)
		}
	}

	if len(artifacts) > 0 {
		fmt.Printf("\nReports written to %s\n", filepath.Dir(artifacts[0]))
	}
}

func printJSON(report check.Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to encode report:", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func writeReport(path string, report check.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

func targetLabel(baseURL string) string {
	if baseURL == "" {
		return "(no URL provided)"
	}
	return baseURL
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
