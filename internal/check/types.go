package check

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// SuiteResult is the contract every suite returns. Score is optional: when a
// suite does not report one, success counts as 100 and failure as 0.
type SuiteResult struct {
	Suite           string         `json:"suite"`
	Success         bool           `json:"success"`
	Warnings        bool           `json:"warnings,omitempty"`
	Score           *float64       `json:"score,omitempty"`
	Message         string         `json:"message,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
	Error           string         `json:"error,omitempty"`
	DurationMS      int64          `json:"duration_ms"`
}

// CriticalIssue records a suite failure with a severity tag. Only
// critical-severity entries gate overall success and fail-fast.
type CriticalIssue struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

type RunConfig struct {
	BaseURL        string        `json:"base_url"`
	RunPreDeploy   bool          `json:"run_pre_deploy"`
	RunPostDeploy  bool          `json:"run_post_deploy"`
	RunIntegration bool          `json:"run_integration"`
	RunSecurity    bool          `json:"run_security"`
	RunPerformance bool          `json:"run_performance"`
	RunUAT         bool          `json:"run_uat"`
	FailFast       bool          `json:"fail_fast"`
	Timeout        time.Duration `json:"timeout_ns"`
	GenerateReport bool          `json:"generate_report"`
	ReportDir      string        `json:"report_dir"`
	BuildDir       string        `json:"build_dir,omitempty"`
	Environment    string        `json:"environment,omitempty"`
	UserAgent      string        `json:"user_agent,omitempty"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		RunPreDeploy:   true,
		RunPostDeploy:  true,
		RunIntegration: true,
		RunSecurity:    true,
		RunPerformance: true,
		RunUAT:         true,
		Timeout:        5 * time.Minute,
		GenerateReport: true,
		ReportDir:      "reports",
		Environment:    "production",
	}
}

func (c *RunConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.ReportDir == "" {
		c.ReportDir = "reports"
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
}

type Summary struct {
	TotalTests      int             `json:"total_tests"`
	PassedTests     int             `json:"passed_tests"`
	FailedTests     int             `json:"failed_tests"`
	Warnings        int             `json:"warnings"`
	OverallScore    float64         `json:"overall_score"`
	Grade           string          `json:"grade"`
	CriticalIssues  []CriticalIssue `json:"critical_issues"`
	Recommendations []string        `json:"recommendations"`
}

// Report is the orchestrator's final verdict. It is computed once at the end
// of a run and never mutated afterwards.
type Report struct {
	GeneratedAt string                 `json:"generated_at"`
	DurationMS  int64                  `json:"duration_ms"`
	Config      RunConfig              `json:"configuration"`
	TestOrder   []string               `json:"test_order"`
	Results     map[string]SuiteResult `json:"results"`
	Summary     Summary                `json:"summary"`
	Success     bool                   `json:"success"`
}

// Event is emitted by the orchestrator as suites start and settle, so callers
// can narrate progress or persist a run timeline.
type Event struct {
	Stage   string         `json:"stage"`
	Suite   string         `json:"suite,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
