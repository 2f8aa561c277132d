package check

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/bjpl/deploycheck/internal/site"
)

// PerformanceSuite samples root-document latency sequentially for a stable
// fingerprint, then fires a concurrent burst to see how the deployment holds
// up under parallel load. The burst concurrency is private to this suite; the
// orchestrator only sees the final result.
type PerformanceSuite struct{}

const (
	perfSequentialRounds = 5
	perfBurstSize        = 6
	perfPageWeightWarn   = 1 << 20
	perfPageWeightFail   = 3 << 20
)

func (s PerformanceSuite) Name() string { return SuitePerformance }

func (s PerformanceSuite) Run(ctx context.Context, client *site.Client, cfg RunConfig) SuiteResult {
	result := SuiteResult{
		Success: true,
		Message: "performance within budget",
		Metrics: map[string]any{},
	}

	var durations []float64
	var bodyBytes int
	errors := 0
	compressed := false
	for i := 0; i < perfSequentialRounds; i++ {
		resp, err := client.GetWithHeaders(ctx, "/", map[string]string{
			"Accept-Encoding": "gzip, br",
		})
		if err != nil {
			errors++
			continue
		}
		durations = append(durations, float64(resp.Duration.Milliseconds()))
		bodyBytes = len(resp.Body)
		if resp.Header("Content-Encoding") != "" {
			compressed = true
		}
	}
	if len(durations) == 0 {
		result.Success = false
		result.Score = ptrFloat64(0)
		result.Message = "all performance samples failed"
		return result
	}

	sort.Float64s(durations)
	n := len(durations)
	p50 := durations[n/2]
	p95Idx := int(math.Ceil(0.95*float64(n))) - 1
	if p95Idx < 0 {
		p95Idx = 0
	}
	p95 := durations[p95Idx]

	result.Metrics["latency_p50_ms"] = p50
	result.Metrics["latency_p95_ms"] = p95
	result.Metrics["latency_min_ms"] = durations[0]
	result.Metrics["latency_max_ms"] = durations[n-1]
	result.Metrics["latency_stddev_ms"] = stddev(durations)
	result.Metrics["latency_samples"] = n
	result.Metrics["sample_errors"] = errors
	result.Metrics["page_bytes"] = bodyBytes
	result.Metrics["compressed"] = compressed

	burstErrors, burstMax := runBurst(ctx, client, perfBurstSize)
	result.Metrics["burst_size"] = perfBurstSize
	result.Metrics["burst_errors"] = burstErrors
	result.Metrics["burst_max_ms"] = burstMax

	score := 100.0
	switch {
	case p50 > 3000:
		score -= 40
	case p50 > 1500:
		score -= 25
	case p50 > 600:
		score -= 10
	}
	if p95 > 2*p50 && p95 > 1000 {
		result.Warnings = true
		score -= 10
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Tail latency is unstable (p50=%.0fms p95=%.0fms)", p50, p95))
	}
	switch {
	case bodyBytes > perfPageWeightFail:
		score -= 25
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Root document weighs %.1f MB; split or compress assets", float64(bodyBytes)/(1<<20)))
	case bodyBytes > perfPageWeightWarn:
		result.Warnings = true
		score -= 10
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Root document weighs %.1f MB", float64(bodyBytes)/(1<<20)))
	}
	if !compressed && bodyBytes > 16<<10 {
		result.Warnings = true
		score -= 10
		result.Recommendations = append(result.Recommendations,
			"Responses are not compressed; enable gzip or brotli")
	}
	if burstErrors > 0 {
		score -= float64(burstErrors) * 10
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("%d of %d concurrent requests failed", burstErrors, perfBurstSize))
	}
	if errors > 0 {
		result.Warnings = true
		score -= float64(errors) * 5
	}

	result.Score = ptrFloat64(clamp(score, 0, 100))
	if *result.Score < 50 {
		result.Success = false
		result.Message = "performance below acceptable budget"
	} else if result.Warnings {
		result.Message = "performance acceptable with concerns"
	}
	return result
}

func runBurst(ctx context.Context, client *site.Client, size int) (int, int64) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	errors := 0
	var maxMS int64
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(ctx, "/")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errors++
				return
			}
			if ms := resp.Duration.Milliseconds(); ms > maxMS {
				maxMS = ms
			}
			if resp.StatusCode >= 500 {
				errors++
			}
		}()
	}
	wg.Wait()
	return errors, maxMS
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
