package server

import (
	"time"

	"github.com/bjpl/deploycheck/internal/check"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RunRequest describes one deployment check run submitted through the API.
type RunRequest struct {
	BaseURL     string   `json:"base_url"`
	Suites      []string `json:"suites,omitempty"`
	FailFast    bool     `json:"fail_fast,omitempty"`
	TimeoutSec  int      `json:"timeout_sec,omitempty"`
	Environment string   `json:"environment,omitempty"`
}

// QuickCheckRequest is the unauthenticated entry point: a named scenario
// instead of a free-form suite list.
type QuickCheckRequest struct {
	ScenarioID  string `json:"scenario_id"`
	TargetURL   string `json:"target_url"`
	StrictLevel string `json:"strict_level,omitempty"`
}

type RunMeta struct {
	RunID       string          `json:"run_id"`
	Status      string          `json:"status"`
	CreatorType string          `json:"creator_type"`
	CreatorSub  string          `json:"creator_sub,omitempty"`
	Source      string          `json:"source"`
	Request     RunRequest      `json:"request"`
	StartedAt   string          `json:"started_at,omitempty"`
	FinishedAt  string          `json:"finished_at,omitempty"`
	CreatedAt   string          `json:"created_at"`
	Error       string          `json:"error,omitempty"`
	Report      *check.Report   `json:"report,omitempty"`
	Verdict     VerdictSnapshot `json:"verdict"`
}

// VerdictSnapshot is the denormalized slice of a report the API surfaces in
// listings without shipping the full report blob.
type VerdictSnapshot struct {
	OverallScore  float64  `json:"overall_score"`
	Grade         string   `json:"grade"`
	Success       bool     `json:"success"`
	CriticalCount int      `json:"critical_count"`
	FailedSuites  []string `json:"failed_suites,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt     string  `json:"generated_at"`
	TotalRuns       int     `json:"total_runs"`
	RunningRuns     int     `json:"running_runs"`
	ReadyRuns       int     `json:"ready_runs"`
	BlockedRuns     int     `json:"blocked_runs"`
	CriticalIssues  int     `json:"critical_issues"`
	AverageDuration int64   `json:"average_duration_ms"`
	AverageScore    float64 `json:"average_score"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
