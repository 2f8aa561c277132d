package server

import (
	"testing"
	"time"

	"github.com/bjpl/deploycheck/internal/check"
)

func TestScenarioToRunRequestSmoke(t *testing.T) {
	cfg := DefaultServerConfig()
	request, err := scenarioToRunRequest(QuickCheckRequest{
		ScenarioID: "post-deploy-smoke",
		TargetURL:  "example.com/",
	}, cfg)
	if err != nil {
		t.Fatalf("scenarioToRunRequest returned error: %v", err)
	}
	if request.BaseURL != "https://example.com" {
		t.Fatalf("expected https prefix and trimmed slash, got %s", request.BaseURL)
	}
	if len(request.Suites) != 2 {
		t.Fatalf("expected smoke scenario to map to 2 suites, got %v", request.Suites)
	}
}

func TestScenarioToRunRequestStrictLevel(t *testing.T) {
	cfg := DefaultServerConfig()
	request, err := scenarioToRunRequest(QuickCheckRequest{
		ScenarioID:  "full-surface",
		TargetURL:   "https://example.com",
		StrictLevel: "strict",
	}, cfg)
	if err != nil {
		t.Fatalf("scenarioToRunRequest returned error: %v", err)
	}
	if !request.FailFast {
		t.Fatal("strict level must enable fail-fast")
	}
	if len(request.Suites) != len(remoteSuiteNames()) {
		t.Fatalf("full-surface should map to all remote suites, got %v", request.Suites)
	}
}

func TestScenarioToRunRequestRejects(t *testing.T) {
	cfg := DefaultServerConfig()
	if _, err := scenarioToRunRequest(QuickCheckRequest{ScenarioID: "unknown", TargetURL: "https://x.test"}, cfg); err == nil {
		t.Fatal("expected error for unsupported scenario")
	}
	if _, err := scenarioToRunRequest(QuickCheckRequest{ScenarioID: "post-deploy-smoke"}, cfg); err == nil {
		t.Fatal("expected error for missing target URL")
	}
}

func TestSuiteFlagsFromNames(t *testing.T) {
	flags, err := suiteFlagsFromNames([]string{check.SuiteSecurity, check.SuiteUAT})
	if err != nil {
		t.Fatalf("suiteFlagsFromNames error: %v", err)
	}
	if !flags.RunSecurity || !flags.RunUAT {
		t.Fatalf("expected security and uat enabled, got %+v", flags)
	}
	if flags.RunPostDeploy || flags.RunIntegration || flags.RunPerformance || flags.RunPreDeploy {
		t.Fatalf("unexpected extra suites enabled: %+v", flags)
	}
	if _, err := suiteFlagsFromNames([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown suite")
	}
	if _, err := suiteFlagsFromNames([]string{check.SuitePreDeploy}); err == nil {
		t.Fatal("pre-deployment must be rejected for API runs")
	}
}

func TestRunConfigFromRequestDefaults(t *testing.T) {
	cfg := DefaultServerConfig()
	request := RunRequest{
		BaseURL: "https://example.com",
		Suites:  []string{check.SuitePostDeploy},
	}
	runCfg := runConfigFromRequest(request, cfg)
	if runCfg.Timeout != time.Duration(cfg.Checks.TimeoutSec)*time.Second {
		t.Fatalf("expected server default timeout, got %s", runCfg.Timeout)
	}
	if runCfg.GenerateReport {
		t.Fatal("API runs must not write local report artifacts")
	}
	if !runCfg.RunPostDeploy {
		t.Fatal("expected requested suite enabled")
	}
}

func TestVerdictFromReport(t *testing.T) {
	report := check.Report{
		TestOrder: []string{check.SuitePostDeploy, check.SuiteSecurity},
		Results: map[string]check.SuiteResult{
			check.SuitePostDeploy: {Suite: check.SuitePostDeploy, Success: true},
			check.SuiteSecurity:   {Suite: check.SuiteSecurity, Success: false},
		},
		Summary: check.Summary{
			OverallScore: 52.5,
			Grade:        "D",
			CriticalIssues: []check.CriticalIssue{
				{Type: "Security Validation", Severity: check.SeverityCritical},
				{Type: "Integration Tests", Severity: check.SeverityHigh},
			},
		},
		Success: false,
	}
	verdict := verdictFromReport(report)
	if verdict.OverallScore != 52.5 || verdict.Grade != "D" || verdict.Success {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if verdict.CriticalCount != 1 {
		t.Fatalf("only critical-severity issues count, got %d", verdict.CriticalCount)
	}
	if len(verdict.FailedSuites) != 1 || verdict.FailedSuites[0] != check.SuiteSecurity {
		t.Fatalf("unexpected failed suites: %v", verdict.FailedSuites)
	}
}

func TestRunStatus(t *testing.T) {
	if got := runStatus(check.Report{Success: true}); got != "ready" {
		t.Fatalf("expected ready, got %s", got)
	}
	if got := runStatus(check.Report{Success: true, Summary: check.Summary{Warnings: 1}}); got != "ready_with_warnings" {
		t.Fatalf("expected ready_with_warnings, got %s", got)
	}
	if got := runStatus(check.Report{Success: false}); got != "blocked" {
		t.Fatalf("expected blocked, got %s", got)
	}
}

func TestCreateAdminRunValidation(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	cfg := DefaultServerConfig()
	cfg.Limits.MaxParallelRuns = 1
	manager := NewRunManager(cfg, store, NewTargetLimiter(cfg.Limits), nil)
	defer manager.Shutdown()

	if _, err := manager.CreateAdminRun(RunRequest{}, Principal{Subject: "admin"}, "test"); err == nil {
		t.Fatal("expected error for missing base_url")
	}
	if _, err := manager.CreateAdminRun(RunRequest{
		BaseURL: "https://example.test",
		Suites:  []string{"bogus"},
	}, Principal{Subject: "admin"}, "test"); err == nil {
		t.Fatal("expected error for unknown suite")
	}
}
