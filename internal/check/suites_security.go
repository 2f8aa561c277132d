package check

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bjpl/deploycheck/internal/site"
)

// SecuritySuite inspects response headers and the served HTML for the issues
// that make a static deployment exploitable: missing hardening headers, mixed
// content, information disclosure, and unescaped reflection of query input.
type SecuritySuite struct{}

func (s SecuritySuite) Name() string { return SuiteSecurity }

var mixedContentPattern = regexp.MustCompile(`(?i)(?:src|href)\s*=\s*["']http://[^"']+["']`)

func (s SecuritySuite) Run(ctx context.Context, client *site.Client, cfg RunConfig) SuiteResult {
	result := SuiteResult{
		Success: true,
		Message: "security posture acceptable",
		Metrics: map[string]any{},
	}

	resp, err := client.Get(ctx, "/")
	if err != nil {
		result.Success = false
		result.Score = ptrFloat64(0)
		result.Message = "could not fetch root document for inspection"
		result.Error = err.Error()
		return result
	}

	score := 100.0
	missing := []string{}
	isHTTPS := strings.HasPrefix(resp.FinalURL, "https://")

	csp := resp.Header("Content-Security-Policy")
	headerChecks := []struct {
		Name    string
		Present bool
		Penalty float64
		Advice  string
	}{
		{
			Name:    "Strict-Transport-Security",
			Present: !isHTTPS || resp.Header("Strict-Transport-Security") != "",
			Penalty: 20,
			Advice:  "Add Strict-Transport-Security so browsers refuse downgraded connections",
		},
		{
			Name:    "Content-Security-Policy",
			Present: csp != "",
			Penalty: 20,
			Advice:  "Add a Content-Security-Policy to restrict script and resource origins",
		},
		{
			Name:    "X-Content-Type-Options",
			Present: strings.EqualFold(resp.Header("X-Content-Type-Options"), "nosniff"),
			Penalty: 10,
			Advice:  "Set X-Content-Type-Options: nosniff",
		},
		{
			Name:    "X-Frame-Options",
			Present: resp.Header("X-Frame-Options") != "" || strings.Contains(csp, "frame-ancestors"),
			Penalty: 10,
			Advice:  "Set X-Frame-Options or a frame-ancestors directive to prevent clickjacking",
		},
		{
			Name:    "Referrer-Policy",
			Present: resp.Header("Referrer-Policy") != "",
			Penalty: 5,
			Advice:  "Set a Referrer-Policy header",
		},
	}
	for _, check := range headerChecks {
		if check.Present {
			continue
		}
		missing = append(missing, check.Name)
		score -= check.Penalty
		result.Recommendations = append(result.Recommendations, check.Advice)
	}
	result.Metrics["missing_headers"] = missing

	if server := resp.Header("Server"); strings.ContainsAny(server, "0123456789") {
		result.Warnings = true
		score -= 5
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Server header discloses version %q; strip it", server))
	}
	if powered := resp.Header("X-Powered-By"); powered != "" {
		result.Warnings = true
		score -= 5
		result.Recommendations = append(result.Recommendations,
			"Remove the X-Powered-By header")
	}

	mixed := 0
	if isHTTPS {
		mixed = len(mixedContentPattern.FindAll(resp.Body, -1))
		if mixed > 0 {
			score -= 20
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("%d resources are loaded over plain HTTP from an HTTPS page", mixed))
		}
	}
	result.Metrics["mixed_content_refs"] = mixed

	marker := "dcheck" + randomSuffix()
	reflected := false
	if probe, probeErr := client.Get(ctx, "/?q=%3Cscript%3E"+marker+"%3C%2Fscript%3E"); probeErr == nil {
		if strings.Contains(string(probe.Body), "<script>"+marker+"</script>") {
			reflected = true
			score -= 40
			result.Recommendations = append(result.Recommendations,
				"Query parameters are reflected into the page without escaping")
		}
	}
	result.Metrics["reflected_input"] = reflected

	result.Score = ptrFloat64(clamp(score, 0, 100))
	switch {
	case reflected || len(missing) >= 3:
		result.Success = false
		result.Message = "security validation failed"
	case len(missing) > 0:
		result.Warnings = true
		result.Message = fmt.Sprintf("%d hardening headers missing", len(missing))
	}
	return result
}
