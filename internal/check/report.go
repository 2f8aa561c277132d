package check

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// WriteArtifacts renders the report to disk: a timestamped JSON snapshot, a
// "latest" JSON alias, a short HTML summary, and a detailed HTML dump. Write
// failures are logged and never fail the run; the returned slice holds the
// paths that were actually written.
func WriteArtifacts(report Report) []string {
	dir := report.Config.ReportDir
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("create report directory failed", "dir", dir, "error", err)
		return nil
	}

	written := []string{}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		slog.Warn("encode report failed", "error", err)
		return nil
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	for _, name := range []string{
		fmt.Sprintf("deployment-test-report-%s.json", stamp),
		"deployment-test-report.json",
	} {
		path := filepath.Join(dir, name)
		if writeErr := os.WriteFile(path, data, 0o644); writeErr != nil {
			slog.Warn("write report artifact failed", "path", path, "error", writeErr)
			continue
		}
		written = append(written, path)
	}

	if path, htmlErr := writeHTML(dir, "deployment-test-summary.html", summaryTemplate, report); htmlErr != nil {
		slog.Warn("write summary html failed", "error", htmlErr)
	} else {
		written = append(written, path)
	}
	if path, htmlErr := writeHTML(dir, "deployment-test-detailed.html", detailedTemplate, detailedView(report, data)); htmlErr != nil {
		slog.Warn("write detailed html failed", "error", htmlErr)
	} else {
		written = append(written, path)
	}
	return written
}

func writeHTML(dir, name string, tmpl *template.Template, data any) (string, error) {
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if err := tmpl.Execute(file, data); err != nil {
		return "", err
	}
	return path, nil
}

type detailedReportView struct {
	Report      Report
	ReportJSON  string
	Platform    string
	GoVersion   string
	WorkingDir  string
	Environment string
}

func detailedView(report Report, data []byte) detailedReportView {
	cwd, _ := os.Getwd()
	return detailedReportView{
		Report:      report,
		ReportJSON:  string(data),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion:   runtime.Version(),
		WorkingDir:  cwd,
		Environment: report.Config.Environment,
	}
}

var summaryTemplate = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Deployment Test Summary</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
.banner { padding: 1rem; border-radius: 6px; font-size: 1.2rem; font-weight: bold; }
.ready { background: #e6f7e6; color: #1a7f1a; }
.blocked { background: #fbeaea; color: #a21616; }
table { border-collapse: collapse; margin-top: 1.5rem; }
th, td { padding: 0.4rem 0.9rem; border-bottom: 1px solid #ddd; text-align: left; }
.pass { color: #1a7f1a; } .fail { color: #a21616; }
</style>
</head>
<body>
<h1>Deployment Test Summary</h1>
<div class="banner {{if .Success}}ready{{else}}blocked{{end}}">
{{if .Success}}DEPLOYMENT READY{{else}}DEPLOYMENT NOT RECOMMENDED{{end}}
&mdash; score {{printf "%.2f" .Summary.OverallScore}} ({{.Summary.Grade}})
</div>
<p>Generated {{.GeneratedAt}} &middot; target {{.Config.BaseURL}} &middot; {{.DurationMS}} ms</p>
<table>
<tr><th>Suite</th><th>Result</th><th>Duration</th><th>Message</th></tr>
{{range $name := .TestOrder}}{{with index $.Results $name}}
<tr>
<td>{{.Suite}}</td>
<td class="{{if .Success}}pass{{else}}fail{{end}}">{{if .Success}}{{if .Warnings}}PASS (warnings){{else}}PASS{{end}}{{else}}FAIL{{end}}</td>
<td>{{.DurationMS}} ms</td>
<td>{{.Message}}</td>
</tr>
{{end}}{{end}}
</table>
{{if .Summary.CriticalIssues}}
<h2>Issues</h2>
<ul>
{{range .Summary.CriticalIssues}}<li><strong>{{.Severity}}</strong> &mdash; {{.Type}}: {{.Message}}</li>{{end}}
</ul>
{{end}}
{{if .Summary.Recommendations}}
<h2>Recommendations</h2>
<ul>
{{range .Summary.Recommendations}}<li>{{.}}</li>{{end}}
</ul>
{{end}}
</body>
</html>
`))

var detailedTemplate = template.Must(template.New("detailed").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Deployment Test Report</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
dt { font-weight: bold; margin-top: 0.5rem; }
pre { background: #f6f6f6; padding: 1rem; border-radius: 6px; overflow-x: auto; }
</style>
</head>
<body>
<h1>Deployment Test Report (detailed)</h1>
<dl>
<dt>Generated</dt><dd>{{.Report.GeneratedAt}}</dd>
<dt>Target</dt><dd>{{.Report.Config.BaseURL}}</dd>
<dt>Environment</dt><dd>{{.Environment}}</dd>
<dt>Platform</dt><dd>{{.Platform}}</dd>
<dt>Runtime</dt><dd>{{.GoVersion}}</dd>
<dt>Working directory</dt><dd>{{.WorkingDir}}</dd>
<dt>Verdict</dt><dd>{{if .Report.Success}}DEPLOYMENT READY{{else}}DEPLOYMENT NOT RECOMMENDED{{end}}
 ({{printf "%.2f" .Report.Summary.OverallScore}}, grade {{.Report.Summary.Grade}})</dd>
</dl>
<h2>Full report</h2>
<pre>{{.ReportJSON}}</pre>
</body>
</html>
`))
