package check

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bjpl/deploycheck/internal/site"
)

// IntegrationSuite exercises the routes a correctly wired deployment must
// serve and verifies the server distinguishes real pages from missing ones.
type IntegrationSuite struct{}

type routeCheck struct {
	Path        string
	WantStatus  int
	Optional    bool
	ContentType string
}

func (s IntegrationSuite) Name() string { return SuiteIntegration }

func (s IntegrationSuite) Run(ctx context.Context, client *site.Client, cfg RunConfig) SuiteResult {
	result := SuiteResult{
		Success: true,
		Message: "all routes respond as expected",
		Metrics: map[string]any{},
	}

	checks := []routeCheck{
		{Path: "/", WantStatus: http.StatusOK, ContentType: "text/html"},
		{Path: "/robots.txt", WantStatus: http.StatusOK, Optional: true, ContentType: "text/plain"},
		{Path: "/sitemap.xml", WantStatus: http.StatusOK, Optional: true, ContentType: "xml"},
		{Path: "/deploycheck-missing-route-e2e", WantStatus: http.StatusNotFound},
	}

	passed := 0
	failed := 0
	optionalMissing := 0
	for _, check := range checks {
		resp, err := client.Get(ctx, check.Path)
		if err != nil {
			if check.Optional {
				optionalMissing++
				result.Recommendations = append(result.Recommendations,
					fmt.Sprintf("Route %s could not be fetched: %v", check.Path, err))
				continue
			}
			failed++
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Route %s could not be fetched: %v", check.Path, err))
			continue
		}
		if resp.StatusCode != check.WantStatus {
			if check.Optional {
				optionalMissing++
				result.Recommendations = append(result.Recommendations,
					fmt.Sprintf("Route %s returned %d; serving it improves SEO and crawling", check.Path, resp.StatusCode))
				continue
			}
			// A 200 for a clearly missing route means soft-404s, which
			// hide broken links from monitoring.
			if check.WantStatus == http.StatusNotFound && resp.StatusCode == http.StatusOK {
				failed++
				result.Recommendations = append(result.Recommendations,
					"Missing routes return 200; configure a real 404 response")
				continue
			}
			failed++
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Route %s returned %d, expected %d", check.Path, resp.StatusCode, check.WantStatus))
			continue
		}
		if check.ContentType != "" && !strings.Contains(strings.ToLower(resp.Header("Content-Type")), check.ContentType) {
			result.Warnings = true
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Route %s served Content-Type %q, expected %s", check.Path, resp.Header("Content-Type"), check.ContentType))
		}
		passed++
	}

	if strings.HasPrefix(client.BaseURL(), "https://") {
		insecure := "http://" + strings.TrimPrefix(client.BaseURL(), "https://")
		if resp, err := client.GetURL(ctx, insecure+"/"); err == nil {
			if !strings.HasPrefix(resp.FinalURL, "https://") {
				result.Warnings = true
				result.Recommendations = append(result.Recommendations,
					"Plain HTTP requests are not redirected to HTTPS")
			}
		}
	}

	required := 0
	for _, check := range checks {
		if !check.Optional {
			required++
		}
	}
	result.Metrics["routes_checked"] = len(checks)
	result.Metrics["routes_passed"] = passed
	result.Metrics["routes_failed"] = failed
	result.Metrics["optional_missing"] = optionalMissing

	score := 100.0
	if required > 0 {
		score = float64(required-failed) / float64(required) * 100
	}
	score -= float64(optionalMissing) * 5
	if optionalMissing > 0 {
		result.Warnings = true
	}
	if failed > 0 {
		result.Success = false
		result.Message = fmt.Sprintf("%d of %d required routes failed", failed, required)
	}
	result.Score = ptrFloat64(clamp(score, 0, 100))
	return result
}
