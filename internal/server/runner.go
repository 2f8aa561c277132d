package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bjpl/deploycheck/internal/check"
	"github.com/bjpl/deploycheck/internal/site"
)

type RunManager struct {
	cfg        ServerConfig
	store      Store
	limiter    *TargetLimiter
	obs        *Observability
	queue      chan queuedRun
	wg         sync.WaitGroup
	quickLimit *ipRateLimiter
}

type RunnerService interface {
	CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error)
	CreateQuickCheck(request QuickCheckRequest, ipHash, uaHash string) (RunMeta, error)
}

type queuedRun struct {
	RunID       string
	Request     RunRequest
	Creator     Principal
	CreatorType string
	Source      string
}

func NewRunManager(cfg ServerConfig, store Store, limiter *TargetLimiter, obs *Observability) *RunManager {
	maxParallel := cfg.Limits.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &RunManager{
		cfg:        cfg,
		store:      store,
		limiter:    limiter,
		obs:        obs,
		queue:      make(chan queuedRun, maxParallel*8),
		quickLimit: newIPRateLimiter(cfg.Limits.QuickCheckRPM),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *RunManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *RunManager) CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	request.BaseURL = strings.TrimRight(strings.TrimSpace(request.BaseURL), "/")
	if request.BaseURL == "" {
		return RunMeta{}, errors.New("base_url is required")
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = m.cfg.Checks.TimeoutSec
	}
	if len(request.Suites) == 0 {
		request.Suites = remoteSuiteNames()
	}
	if _, err := suiteFlagsFromNames(request.Suites); err != nil {
		return RunMeta{}, err
	}
	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "run queued", map[string]any{
		"source": source,
		"target": request.BaseURL,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "run.create",
		Result:    "queued",
		Detail:    request.BaseURL,
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

func (m *RunManager) CreateQuickCheck(request QuickCheckRequest, ipHash, uaHash string) (RunMeta, error) {
	if !m.quickLimit.Allow(ipHash) {
		if m.obs != nil {
			m.obs.MarkTargetBlocked(context.Background(), "quick_check_rate_limit")
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ActorType: "user",
			Action:    "quick_check.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return RunMeta{}, errors.New("quick check rate limit reached")
	}
	runRequest, err := scenarioToRunRequest(request, m.cfg)
	if err != nil {
		return RunMeta{}, err
	}
	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      "user.quick_check",
		CreatorType: "user",
		Request:     runRequest,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "quick check queued", map[string]any{
		"scenario_id": request.ScenarioID,
		"target":      runRequest.BaseURL,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "user",
		Action:    "quick_check.create",
		Result:    "queued",
		IPHash:    ipHash,
		UAHash:    uaHash,
		Detail:    request.ScenarioID,
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     runRequest,
		CreatorType: "user",
		Source:      "user.quick_check",
	}
	return meta, nil
}

func (m *RunManager) worker() {
	for queued := range m.queue {
		m.executeRun(queued)
	}
}

func (m *RunManager) executeRun(queued queuedRun) {
	lease, err := m.limiter.Acquire(queued.Request.BaseURL)
	if err != nil {
		_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
			meta.Status = "blocked"
			meta.Error = "target lease unavailable: " + err.Error()
			meta.FinishedAt = nowRFC3339()
		})
		_, _ = m.store.AppendRunEvent(queued.RunID, "error", "target lease unavailable", map[string]any{
			"error": err.Error(),
		})
		if m.obs != nil {
			m.obs.MarkRun(context.Background(), "blocked")
			m.obs.MarkTargetBlocked(context.Background(), "lease_unavailable")
		}
		return
	}
	defer m.limiter.Release(lease)

	startedAt := nowRFC3339()
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "start", "run started", nil)

	timeout := time.Duration(queued.Request.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(m.cfg.Checks.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout*7)
	defer cancel()

	runCfg := runConfigFromRequest(queued.Request, m.cfg)
	client := site.NewClient(site.Config{
		BaseURL:   runCfg.BaseURL,
		UserAgent: m.cfg.Checks.UserAgent,
		Timeout:   runCfg.Timeout,
	})

	report := check.RunWithEvents(ctx, client, runCfg, func(event check.Event) {
		_, _ = m.store.AppendRunEvent(queued.RunID, event.Stage, event.Message, event.Data)
		if m.obs != nil && event.Stage == "suite_result" {
			if duration, ok := toFloat(event.Data["duration_ms"]); ok {
				m.obs.MarkSuite(ctx, event.Suite, int64(duration))
			}
		}
	})

	verdict := verdictFromReport(report)
	status := runStatus(report)
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = &report
		meta.Verdict = verdict
		if !report.Success {
			meta.Error = "deployment not recommended"
		}
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "run completed", map[string]any{
		"status":        status,
		"overall_score": verdict.OverallScore,
		"grade":         verdict.Grade,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     queued.RunID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "run.completed",
		Result:    status,
		Detail:    fmt.Sprintf("score=%.2f grade=%s", verdict.OverallScore, verdict.Grade),
	})
	if m.obs != nil {
		m.obs.MarkRun(ctx, status)
		for _, issue := range report.Summary.CriticalIssues {
			if issue.Severity == check.SeverityCritical {
				m.obs.MarkCritical(ctx, issue.Type)
			}
		}
	}
}

// remoteSuiteNames lists the suites an API run may execute. Pre-deployment is
// excluded: the server has no local build output to validate.
func remoteSuiteNames() []string {
	return []string{
		check.SuitePostDeploy,
		check.SuiteIntegration,
		check.SuiteSecurity,
		check.SuitePerformance,
		check.SuiteUAT,
	}
}

func suiteFlagsFromNames(names []string) (check.RunConfig, error) {
	cfg := check.RunConfig{}
	for _, raw := range names {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case check.SuitePreDeploy:
			return cfg, errors.New("pre-deployment validation is not available for API runs")
		case check.SuitePostDeploy:
			cfg.RunPostDeploy = true
		case check.SuiteIntegration:
			cfg.RunIntegration = true
		case check.SuiteSecurity:
			cfg.RunSecurity = true
		case check.SuitePerformance:
			cfg.RunPerformance = true
		case check.SuiteUAT:
			cfg.RunUAT = true
		case "":
			continue
		default:
			return cfg, fmt.Errorf("unknown suite: %s", raw)
		}
	}
	return cfg, nil
}

func runConfigFromRequest(request RunRequest, cfg ServerConfig) check.RunConfig {
	flags, _ := suiteFlagsFromNames(request.Suites)
	flags.BaseURL = request.BaseURL
	flags.FailFast = request.FailFast
	flags.Environment = request.Environment
	flags.GenerateReport = false
	flags.Timeout = time.Duration(request.TimeoutSec) * time.Second
	if flags.Timeout <= 0 {
		flags.Timeout = time.Duration(cfg.Checks.TimeoutSec) * time.Second
	}
	return flags
}

func scenarioToRunRequest(input QuickCheckRequest, cfg ServerConfig) (RunRequest, error) {
	target := strings.TrimRight(strings.TrimSpace(input.TargetURL), "/")
	if target == "" {
		return RunRequest{}, errors.New("target_url is required")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	base := RunRequest{
		BaseURL:    target,
		TimeoutSec: cfg.Checks.TimeoutSec,
	}
	switch strings.ToLower(strings.TrimSpace(input.ScenarioID)) {
	case "smoke", "post-deploy-smoke":
		base.Suites = []string{check.SuitePostDeploy, check.SuiteIntegration}
	case "security-audit":
		base.Suites = []string{check.SuitePostDeploy, check.SuiteSecurity}
	case "full-surface":
		base.Suites = remoteSuiteNames()
	default:
		return RunRequest{}, errors.New("unsupported scenario_id")
	}
	switch strings.ToLower(strings.TrimSpace(input.StrictLevel)) {
	case "strict", "high":
		base.FailFast = true
	case "fast", "low":
		base.TimeoutSec = minInt(base.TimeoutSec, 60)
	}
	return base, nil
}

func verdictFromReport(report check.Report) VerdictSnapshot {
	out := VerdictSnapshot{
		OverallScore: report.Summary.OverallScore,
		Grade:        report.Summary.Grade,
		Success:      report.Success,
	}
	for _, issue := range report.Summary.CriticalIssues {
		if issue.Severity == check.SeverityCritical {
			out.CriticalCount++
		}
	}
	for _, name := range report.TestOrder {
		if result, ok := report.Results[name]; ok && !result.Success {
			out.FailedSuites = append(out.FailedSuites, name)
		}
	}
	return out
}

func runStatus(report check.Report) string {
	switch {
	case !report.Success:
		return "blocked"
	case report.Summary.Warnings > 0:
		return "ready_with_warnings"
	default:
		return "ready"
	}
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func hashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint32:
		return float64(v), true
	default:
		return 0, false
	}
}
