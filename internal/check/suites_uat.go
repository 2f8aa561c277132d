package check

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/bjpl/deploycheck/internal/site"
)

// UATSuite checks the deployment the way a visitor would: the page has a
// title, navigation exists, internal links resolve, and missing pages show a
// real 404. Links are pulled from the served HTML with the same anchor
// extraction the site's content audits use.
type UATSuite struct{}

const uatLinkSampleSize = 10

var (
	anchorPattern = regexp.MustCompile(`(?i)<a\s+[^>]*href\s*=\s*["']([^"'#]+)["']`)
	titlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

func (s UATSuite) Name() string { return SuiteUAT }

func (s UATSuite) Run(ctx context.Context, client *site.Client, cfg RunConfig) SuiteResult {
	result := SuiteResult{
		Success: true,
		Message: "user-facing checks passed",
		Metrics: map[string]any{},
	}

	resp, err := client.Get(ctx, "/")
	if err != nil {
		result.Success = false
		result.Score = ptrFloat64(0)
		result.Message = "home page unreachable"
		result.Error = err.Error()
		return result
	}
	page := string(resp.Body)

	score := 100.0
	title := extractTitle(page)
	result.Metrics["title"] = title
	if title == "" {
		result.Warnings = true
		score -= 10
		result.Recommendations = append(result.Recommendations,
			"Home page has no <title>; add one for browser tabs and search results")
	}

	internal, external := classifyLinks(anchorPattern.FindAllStringSubmatch(page, -1), client.BaseURL())
	result.Metrics["internal_links"] = len(internal)
	result.Metrics["external_links"] = len(external)
	if len(internal)+len(external) == 0 {
		result.Warnings = true
		score -= 15
		result.Recommendations = append(result.Recommendations,
			"Home page has no links; navigation may not have rendered")
	}

	broken := auditInternalLinks(ctx, client, internal, uatLinkSampleSize)
	result.Metrics["links_audited"] = minInt(len(internal), uatLinkSampleSize)
	result.Metrics["broken_links"] = len(broken)
	if len(broken) > 0 {
		score -= float64(len(broken)) * 10
		for _, link := range broken {
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Internal link %s is broken", link))
		}
	}

	if missing, missErr := client.Get(ctx, "/deploycheck-uat-missing-page"); missErr == nil {
		if missing.StatusCode == http.StatusNotFound && len(missing.Body) < 64 {
			result.Warnings = true
			score -= 5
			result.Recommendations = append(result.Recommendations,
				"404 responses have no page body; add a custom not-found page")
		}
	}

	result.Score = ptrFloat64(clamp(score, 0, 100))
	switch {
	case len(broken) > 2:
		result.Success = false
		result.Message = fmt.Sprintf("%d broken internal links", len(broken))
	case result.Warnings:
		result.Message = "user-facing checks passed with concerns"
	}
	return result
}

func extractTitle(page string) string {
	match := titlePattern.FindStringSubmatch(page)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func classifyLinks(matches [][]string, baseURL string) (internal []string, external []string) {
	base, _ := url.Parse(baseURL)
	seen := map[string]struct{}{}
	for _, match := range matches {
		href := strings.TrimSpace(match[1])
		if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			continue
		}
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			parsed, err := url.Parse(href)
			if err != nil || base == nil || parsed.Host != base.Host {
				external = append(external, href)
				continue
			}
			internal = append(internal, href)
			continue
		}
		internal = append(internal, href)
	}
	return internal, external
}

func auditInternalLinks(ctx context.Context, client *site.Client, links []string, sample int) []string {
	broken := []string{}
	for i, link := range links {
		if i >= sample {
			break
		}
		var resp *site.Response
		var err error
		if strings.HasPrefix(link, "http") {
			resp, err = client.GetURL(ctx, link)
		} else {
			resp, err = client.Get(ctx, link)
		}
		if err != nil || resp.StatusCode >= 400 {
			broken = append(broken, link)
		}
	}
	return broken
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
