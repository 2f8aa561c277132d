package check

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bjpl/deploycheck/internal/site"
)

// HealthSuite is the first suite to touch the live deployment: can the root
// document be fetched, is it HTML, and does it come back in reasonable time.
type HealthSuite struct{}

func (s HealthSuite) Name() string { return SuitePostDeploy }

func (s HealthSuite) Run(ctx context.Context, client *site.Client, cfg RunConfig) SuiteResult {
	result := SuiteResult{
		Success: true,
		Message: "deployment is reachable and serving content",
		Metrics: map[string]any{},
	}

	resp, err := client.Get(ctx, "/")
	if err != nil {
		result.Success = false
		result.Score = ptrFloat64(0)
		result.Message = "root document unreachable"
		result.Error = err.Error()
		return result
	}

	result.Metrics["status_code"] = resp.StatusCode
	result.Metrics["latency_ms"] = resp.Duration.Milliseconds()
	result.Metrics["body_bytes"] = len(resp.Body)
	result.Metrics["final_url"] = resp.FinalURL

	score := 100.0
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Success = false
		result.Message = fmt.Sprintf("root document returned status %d", resp.StatusCode)
		score = 0
	}
	if len(resp.Body) == 0 {
		result.Success = false
		result.Message = "root document body is empty"
		score -= 50
	}
	if !resp.IsHTML() {
		result.Warnings = true
		score -= 10
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Root document Content-Type is %q, expected text/html", resp.Header("Content-Type")))
	}

	switch {
	case resp.Duration > 10*time.Second:
		result.Success = false
		result.Message = fmt.Sprintf("root document took %s to respond", resp.Duration.Round(time.Millisecond))
		score -= 40
	case resp.Duration > 2*time.Second:
		result.Warnings = true
		score -= 15
		result.Recommendations = append(result.Recommendations,
			"Root document latency exceeds 2s; check hosting region and caching")
	}

	if head, headErr := client.Head(ctx, "/"); headErr != nil || head.StatusCode == http.StatusMethodNotAllowed {
		result.Warnings = true
		result.Recommendations = append(result.Recommendations,
			"HEAD requests are not supported; some monitors rely on them")
	}

	result.Score = ptrFloat64(clamp(score, 0, 100))
	return result
}
