package check

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bjpl/deploycheck/internal/site"
)

type Suite interface {
	Name() string
	Run(ctx context.Context, client *site.Client, cfg RunConfig) SuiteResult
}

// SuiteSpec binds a suite to its weight in the overall score, the severity of
// the issue recorded when it fails, and whether it needs a live URL. The table
// below is the single place the fixed execution order lives.
type SuiteSpec struct {
	Name        string
	Title       string
	Weight      float64
	Severity    Severity
	RequiresURL bool
	Enabled     func(RunConfig) bool
	Suite       Suite
}

const (
	SuitePreDeploy   = "pre-deployment"
	SuitePostDeploy  = "post-deployment"
	SuiteIntegration = "integration"
	SuiteSecurity    = "security"
	SuitePerformance = "performance"
	SuiteUAT         = "user-acceptance"
)

// SuiteTable returns the suites in their fixed dependency order. Later suites
// assume earlier ones have validated baseline reachability, so the order never
// changes regardless of configuration.
func SuiteTable() []SuiteSpec {
	return []SuiteSpec{
		{
			Name:     SuitePreDeploy,
			Title:    "Pre-Deployment Validation",
			Weight:   0.20,
			Severity: SeverityCritical,
			Enabled:  func(c RunConfig) bool { return c.RunPreDeploy },
			Suite:    PreDeploySuite{},
		},
		{
			Name:        SuitePostDeploy,
			Title:       "Post-Deployment Health",
			Weight:      0.20,
			Severity:    SeverityHigh,
			RequiresURL: true,
			Enabled:     func(c RunConfig) bool { return c.RunPostDeploy },
			Suite:       HealthSuite{},
		},
		{
			Name:        SuiteIntegration,
			Title:       "Integration Tests",
			Weight:      0.20,
			Severity:    SeverityHigh,
			RequiresURL: true,
			Enabled:     func(c RunConfig) bool { return c.RunIntegration },
			Suite:       IntegrationSuite{},
		},
		{
			Name:        SuiteSecurity,
			Title:       "Security Validation",
			Weight:      0.20,
			Severity:    SeverityCritical,
			RequiresURL: true,
			Enabled:     func(c RunConfig) bool { return c.RunSecurity },
			Suite:       SecuritySuite{},
		},
		{
			Name:        SuitePerformance,
			Title:       "Performance Benchmarks",
			Weight:      0.10,
			Severity:    SeverityMedium,
			RequiresURL: true,
			Enabled:     func(c RunConfig) bool { return c.RunPerformance },
			Suite:       PerformanceSuite{},
		},
		{
			Name:        SuiteUAT,
			Title:       "User Acceptance",
			Weight:      0.10,
			Severity:    SeverityMedium,
			RequiresURL: true,
			Enabled:     func(c RunConfig) bool { return c.RunUAT },
			Suite:       UATSuite{},
		},
	}
}

// SpecByName looks up a suite in the fixed table by its wire name.
func SpecByName(name string) (SuiteSpec, bool) {
	for _, spec := range SuiteTable() {
		if spec.Name == name {
			return spec, true
		}
	}
	return SuiteSpec{}, false
}

// Run executes the enabled suites in fixed order and returns the final
// report. It never returns an error: any failure mode, including a bug in the
// orchestrator itself, surfaces as issues inside the report.
func Run(ctx context.Context, client *site.Client, cfg RunConfig) Report {
	return RunWithEvents(ctx, client, cfg, nil)
}

func RunWithEvents(ctx context.Context, client *site.Client, cfg RunConfig, onEvent func(Event)) Report {
	return runTable(ctx, client, cfg, SuiteTable(), onEvent)
}

func runTable(ctx context.Context, client *site.Client, cfg RunConfig, table []SuiteSpec, onEvent func(Event)) Report {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	cfg.normalize()
	start := time.Now()
	state := &runState{
		cfg:     cfg,
		results: map[string]SuiteResult{},
		order:   []string{},
	}

	var report Report
	func() {
		defer func() {
			if r := recover(); r != nil {
				state.issues = append(state.issues, CriticalIssue{
					Type:     "System Error",
					Message:  fmt.Sprintf("orchestrator failure: %v", r),
					Severity: SeverityCritical,
				})
				report = Report{
					GeneratedAt: nowRFC3339(),
					DurationMS:  time.Since(start).Milliseconds(),
					Config:      cfg,
					TestOrder:   state.order,
					Results:     state.results,
					Summary: Summary{
						CriticalIssues:  state.issues,
						Recommendations: []string{},
						TotalTests:      len(state.order),
						Grade:           Grade(0),
					},
				}
			}
		}()
		state.execute(ctx, client, table, onEvent)
		// Aggregation shares the guard so a summary bug still yields a report.
		report = state.finalize(table, time.Since(start))
	}()
	onEvent(Event{
		Stage:   "completed",
		Message: "run completed",
		Data: map[string]any{
			"success":       report.Success,
			"overall_score": report.Summary.OverallScore,
			"grade":         report.Summary.Grade,
		},
	})
	return report
}

type runState struct {
	cfg     RunConfig
	order   []string
	results map[string]SuiteResult
	issues  []CriticalIssue
	recs    []string
}

func (s *runState) execute(ctx context.Context, client *site.Client, table []SuiteSpec, onEvent func(Event)) {
	for _, spec := range table {
		if spec.Enabled != nil && !spec.Enabled(s.cfg) {
			continue
		}
		onEvent(Event{
			Stage:   "suite_start",
			Suite:   spec.Name,
			Message: spec.Title + " started",
		})

		var result SuiteResult
		missingURL := spec.RequiresURL && strings.TrimSpace(s.cfg.BaseURL) == ""
		if missingURL {
			result = SuiteResult{
				Success: false,
				Message: "No URL provided",
			}
		} else {
			result = runSuiteGuarded(ctx, spec, client, s.cfg)
		}
		result.Suite = spec.Name

		s.order = append(s.order, spec.Name)
		s.results[spec.Name] = result
		s.recs = append(s.recs, result.Recommendations...)
		// A missing URL is a missing prerequisite, not a deployment defect:
		// the suite counts as failed but raises no issue.
		if !result.Success && !missingURL {
			message := result.Message
			if message == "" {
				message = result.Error
			}
			if message == "" {
				message = "suite failed"
			}
			s.issues = append(s.issues, CriticalIssue{
				Type:     spec.Title,
				Message:  message,
				Severity: spec.Severity,
			})
		}

		onEvent(Event{
			Stage:   "suite_result",
			Suite:   spec.Name,
			Message: suiteOutcomeMessage(result),
			Data: map[string]any{
				"success":     result.Success,
				"warnings":    result.Warnings,
				"score":       suiteScore(result),
				"duration_ms": result.DurationMS,
			},
		})

		if s.cfg.FailFast && hasCriticalSeverity(s.issues) {
			onEvent(Event{
				Stage:   "fail_fast",
				Suite:   spec.Name,
				Message: "critical issue recorded, remaining suites skipped",
			})
			break
		}
	}
}

// runSuiteGuarded wraps one suite invocation in a timeout race and converts
// panics into failed results so nothing propagates past the suite boundary.
func runSuiteGuarded(ctx context.Context, spec SuiteSpec, client *site.Client, cfg RunConfig) SuiteResult {
	suiteCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	done := make(chan SuiteResult, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- SuiteResult{
					Success: false,
					Message: fmt.Sprintf("%s suite panicked", spec.Name),
					Error:   fmt.Sprintf("%v", r),
				}
			}
		}()
		done <- spec.Suite.Run(suiteCtx, client, cfg)
	}()

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()
	select {
	case result := <-done:
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	case <-timer.C:
		// In-flight requests are not actively aborted beyond context
		// cancellation; cleanup is the suite's own concern.
		return SuiteResult{
			Success:    false,
			Message:    fmt.Sprintf("%s timed out after %d seconds", spec.Name, int(cfg.Timeout.Seconds())),
			Error:      "timeout",
			DurationMS: time.Since(start).Milliseconds(),
		}
	}
}

func (s *runState) finalize(table []SuiteSpec, elapsed time.Duration) Report {
	summary := Summary{
		CriticalIssues:  s.issues,
		Recommendations: dedupeStrings(s.recs),
	}
	if summary.CriticalIssues == nil {
		summary.CriticalIssues = []CriticalIssue{}
	}
	for _, name := range s.order {
		result := s.results[name]
		summary.TotalTests++
		if result.Success {
			summary.PassedTests++
		} else {
			summary.FailedTests++
		}
		if result.Warnings {
			summary.Warnings++
		}
	}
	summary.OverallScore = overallScore(table, s.order, s.results)
	summary.Grade = Grade(summary.OverallScore)

	return Report{
		GeneratedAt: nowRFC3339(),
		DurationMS:  elapsed.Milliseconds(),
		Config:      s.cfg,
		TestOrder:   s.order,
		Results:     s.results,
		Summary:     summary,
		Success:     !hasCriticalSeverity(s.issues) && summary.OverallScore >= successScoreThreshold,
	}
}

func suiteOutcomeMessage(result SuiteResult) string {
	switch {
	case result.Success && result.Warnings:
		return "passed with warnings"
	case result.Success:
		return "passed"
	case result.Message != "":
		return result.Message
	default:
		return "failed"
	}
}

func hasCriticalSeverity(issues []CriticalIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
