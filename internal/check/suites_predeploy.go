package check

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bjpl/deploycheck/internal/site"
)

// PreDeploySuite validates the local build output before anything touches the
// network. It is the only suite that does not require a live URL.
type PreDeploySuite struct{}

func (s PreDeploySuite) Name() string { return SuitePreDeploy }

func (s PreDeploySuite) Run(ctx context.Context, client *site.Client, cfg RunConfig) SuiteResult {
	result := SuiteResult{
		Success: true,
		Message: "build output looks deployable",
		Metrics: map[string]any{},
	}

	buildDir := locateBuildDir(cfg.BuildDir)
	if buildDir == "" {
		result.Success = false
		result.Score = ptrFloat64(0)
		result.Message = "build directory not found"
		result.Recommendations = append(result.Recommendations,
			"Run the production build before deploying, or pass -build-dir explicitly")
		return result
	}
	result.Metrics["build_dir"] = buildDir

	fileCount, totalBytes := walkBuildDir(buildDir)
	result.Metrics["file_count"] = fileCount
	result.Metrics["total_bytes"] = totalBytes

	score := 100.0
	if fileCount == 0 {
		result.Success = false
		result.Message = "build directory is empty"
		score = 0
	}

	indexPath := filepath.Join(buildDir, "index.html")
	indexInfo, err := os.Stat(indexPath)
	switch {
	case err != nil:
		result.Success = false
		result.Message = "index.html missing from build output"
		score -= 60
	case indexInfo.Size() < 256:
		result.Warnings = true
		score -= 15
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("index.html is only %d bytes; verify the build completed", indexInfo.Size()))
	}

	for _, name := range []string{"robots.txt", "sitemap.xml"} {
		if _, statErr := os.Stat(filepath.Join(buildDir, name)); statErr != nil {
			result.Warnings = true
			score -= 5
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Add %s to the build output for search engines", name))
		}
	}

	if strings.TrimSpace(cfg.BaseURL) == "" && strings.TrimSpace(os.Getenv("DEPLOYED_URL")) == "" {
		result.Warnings = true
		result.Recommendations = append(result.Recommendations,
			"Set DEPLOYED_URL so post-deployment suites have a target")
	}

	result.Score = ptrFloat64(clamp(score, 0, 100))
	if !result.Success && result.Message == "" {
		result.Message = "pre-deployment validation failed"
	}
	return result
}

func locateBuildDir(configured string) string {
	if strings.TrimSpace(configured) != "" {
		if info, err := os.Stat(configured); err == nil && info.IsDir() {
			return configured
		}
		return ""
	}
	for _, candidate := range []string{"dist", "build", "public", "out"} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

func walkBuildDir(dir string) (int, int64) {
	count := 0
	var bytes int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		count++
		if info, infoErr := d.Info(); infoErr == nil {
			bytes += info.Size()
		}
		return nil
	})
	return count, bytes
}
