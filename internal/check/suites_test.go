package check

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bjpl/deploycheck/internal/site"
)

func testClient(serverURL string) *site.Client {
	return site.NewClient(site.Config{BaseURL: serverURL})
}

func securedHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "<html><body><h1>Page not found</h1><p>Try the homepage instead.</p></body></html>")
			return
		}
		fmt.Fprint(w, body)
	}
}

func TestHealthSuitePass(t *testing.T) {
	server := httptest.NewServer(securedHandler("<html><head><title>Home</title></head><body>hello</body></html>"))
	defer server.Close()

	result := HealthSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if *result.Score != 100 {
		t.Fatalf("expected 100, got %.2f", *result.Score)
	}
	if result.Metrics["status_code"] != http.StatusOK {
		t.Fatalf("expected 200 in metrics, got %v", result.Metrics["status_code"])
	}
}

func TestHealthSuiteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	result := HealthSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if result.Success {
		t.Fatal("expected failure on 500")
	}
	if !strings.Contains(result.Message, "500") {
		t.Fatalf("expected status in message, got %q", result.Message)
	}
}

func TestHealthSuiteUnreachable(t *testing.T) {
	client := site.NewClient(site.Config{BaseURL: "http://127.0.0.1:1"})
	result := HealthSuite{}.Run(context.Background(), client, DefaultRunConfig())
	if result.Success {
		t.Fatal("expected failure for unreachable host")
	}
	if result.Error == "" {
		t.Fatal("expected transport error recorded")
	}
	if *result.Score != 0 {
		t.Fatalf("expected 0, got %.2f", *result.Score)
	}
}

func TestHealthSuiteNonHTMLWarns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	result := HealthSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("non-HTML root should still pass: %+v", result)
	}
	if !result.Warnings {
		t.Fatal("expected warning for non-HTML content type")
	}
}

func TestSecuritySuiteHardenedServer(t *testing.T) {
	server := httptest.NewServer(securedHandler("<html><body>safe</body></html>"))
	defer server.Close()

	result := SecuritySuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	missing := result.Metrics["missing_headers"].([]string)
	if len(missing) != 0 {
		t.Fatalf("expected no missing headers, got %v", missing)
	}
}

func TestSecuritySuiteMissingHeadersFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>bare</body></html>")
	}))
	defer server.Close()

	result := SecuritySuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if result.Success {
		t.Fatalf("expected failure with bare headers, got %+v", result)
	}
	missing := result.Metrics["missing_headers"].([]string)
	if len(missing) < 3 {
		t.Fatalf("expected at least 3 missing headers, got %v", missing)
	}
	if *result.Score >= 70 {
		t.Fatalf("expected heavy deductions, got %.2f", *result.Score)
	}
}

func TestSecuritySuiteReflectedInputFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		// echoes the raw query parameter into the page
		fmt.Fprintf(w, "<html><body>You searched for %s</body></html>", r.URL.Query().Get("q"))
	}))
	defer server.Close()

	result := SecuritySuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if result.Success {
		t.Fatal("expected failure when input is reflected unescaped")
	}
	if result.Metrics["reflected_input"] != true {
		t.Fatalf("expected reflected_input=true, got %v", result.Metrics["reflected_input"])
	}
}

func TestIntegrationSuiteWellBehavedSite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>home</body></html>")
		case "/robots.txt":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "User-agent: *\nAllow: /\n")
		case "/sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0"?><urlset></urlset>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	result := IntegrationSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Metrics["routes_failed"] != 0 {
		t.Fatalf("expected 0 failed routes, got %v", result.Metrics["routes_failed"])
	}
	if *result.Score != 100 {
		t.Fatalf("expected 100, got %.2f", *result.Score)
	}
}

func TestIntegrationSuiteSoft404Fails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// every path, including missing ones, returns 200
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>always here</body></html>")
	}))
	defer server.Close()

	result := IntegrationSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if result.Success {
		t.Fatal("expected failure when missing routes return 200")
	}
	var sawSoft404Advice bool
	for _, rec := range result.Recommendations {
		if strings.Contains(rec, "404") {
			sawSoft404Advice = true
		}
	}
	if !sawSoft404Advice {
		t.Fatalf("expected soft-404 recommendation, got %v", result.Recommendations)
	}
}

func TestIntegrationSuiteOptionalRoutesOnlyWarn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>home</body></html>")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	result := IntegrationSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("missing robots/sitemap must not fail the suite: %+v", result)
	}
	if !result.Warnings {
		t.Fatal("expected warnings for missing optional routes")
	}
	if result.Metrics["optional_missing"] != 2 {
		t.Fatalf("expected 2 optional routes missing, got %v", result.Metrics["optional_missing"])
	}
}

func TestIntegrationSuiteOptionalFetchErrorOnlyWarns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>home</body></html>")
		case "/robots.txt":
			panic(http.ErrAbortHandler)
		case "/sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, "<urlset></urlset>")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	result := IntegrationSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("an unreachable optional route must not fail the suite: %+v", result)
	}
	if result.Metrics["routes_failed"] != 0 {
		t.Fatalf("expected 0 failed routes, got %v", result.Metrics["routes_failed"])
	}
	if result.Metrics["optional_missing"] != 1 {
		t.Fatalf("expected 1 unreachable optional route, got %v", result.Metrics["optional_missing"])
	}
}

func TestUATSuiteHealthyPage(t *testing.T) {
	page := `<html><head><title>Demo Site</title></head><body>
		<a href="/about">About</a>
		<a href="/contact">Contact</a>
		<a href="https://external.example.com/docs">Docs</a>
		<a href="mailto:hi@example.com">Mail</a>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/about", "/contact":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, page)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "<html><body><h1>Not found</h1><p>This page does not exist on this site.</p></body></html>")
		}
	}))
	defer server.Close()

	result := UATSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Metrics["title"] != "Demo Site" {
		t.Fatalf("unexpected title: %v", result.Metrics["title"])
	}
	if result.Metrics["internal_links"] != 2 {
		t.Fatalf("expected 2 internal links, got %v", result.Metrics["internal_links"])
	}
	if result.Metrics["external_links"] != 1 {
		t.Fatalf("expected 1 external link, got %v", result.Metrics["external_links"])
	}
	if result.Metrics["broken_links"] != 0 {
		t.Fatalf("expected 0 broken links, got %v", result.Metrics["broken_links"])
	}
}

func TestUATSuiteBrokenLinksFail(t *testing.T) {
	page := `<html><head><title>Broken</title></head><body>
		<a href="/a">a</a><a href="/b">b</a><a href="/c">c</a>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, page)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	result := UATSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if result.Success {
		t.Fatal("expected failure with 3 broken links")
	}
	if result.Metrics["broken_links"] != 3 {
		t.Fatalf("expected 3 broken links, got %v", result.Metrics["broken_links"])
	}
}

func TestUATSuiteMissingTitleWarns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/">home</a></body></html>`)
	}))
	defer server.Close()

	result := UATSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("missing title must not fail the suite: %+v", result)
	}
	if !result.Warnings {
		t.Fatal("expected warning for missing title")
	}
}

func TestExtractTitle(t *testing.T) {
	if got := extractTitle("<html><head><title> Hello </title></head></html>"); got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
	if got := extractTitle("<html><head></head></html>"); got != "" {
		t.Fatalf("expected empty title, got %q", got)
	}
}

func TestClassifyLinks(t *testing.T) {
	page := `<a href="/one">1</a> <a href="/one">dupe</a>
	<a href="https://self.test/two">2</a>
	<a href="https://other.test/x">x</a>
	<a href="tel:+123">call</a>`
	internal, external := classifyLinks(anchorPattern.FindAllStringSubmatch(page, -1), "https://self.test")
	if len(internal) != 2 {
		t.Fatalf("expected 2 internal links, got %v", internal)
	}
	if len(external) != 1 {
		t.Fatalf("expected 1 external link, got %v", external)
	}
}

func TestPreDeploySuiteHealthyBuild(t *testing.T) {
	dir := t.TempDir()
	index := bytes.Repeat([]byte("<html><body>content</body></html>"), 16)
	mustWriteFile(t, filepath.Join(dir, "index.html"), index)
	mustWriteFile(t, filepath.Join(dir, "robots.txt"), []byte("User-agent: *\n"))
	mustWriteFile(t, filepath.Join(dir, "sitemap.xml"), []byte("<urlset/>"))

	cfg := DefaultRunConfig()
	cfg.BuildDir = dir
	cfg.BaseURL = "https://example.test"
	result := PreDeploySuite{}.Run(context.Background(), nil, cfg)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if *result.Score != 100 {
		t.Fatalf("expected 100, got %.2f", *result.Score)
	}
	if result.Metrics["file_count"] != 3 {
		t.Fatalf("expected 3 files, got %v", result.Metrics["file_count"])
	}
}

func TestPreDeploySuiteMissingIndex(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "app.js"), []byte("console.log('hi')"))

	cfg := DefaultRunConfig()
	cfg.BuildDir = dir
	cfg.BaseURL = "https://example.test"
	result := PreDeploySuite{}.Run(context.Background(), nil, cfg)
	if result.Success {
		t.Fatal("expected failure without index.html")
	}
	if !strings.Contains(result.Message, "index.html") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
}

func TestPreDeploySuiteMissingBuildDir(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.BuildDir = filepath.Join(t.TempDir(), "does-not-exist")
	result := PreDeploySuite{}.Run(context.Background(), nil, cfg)
	if result.Success {
		t.Fatal("expected failure for missing build dir")
	}
	if *result.Score != 0 {
		t.Fatalf("expected 0, got %.2f", *result.Score)
	}
}

func TestPerformanceSuiteFastServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "identity")
		fmt.Fprint(w, "<html><body>small and fast</body></html>")
	}))
	defer server.Close()

	result := PerformanceSuite{}.Run(context.Background(), testClient(server.URL), DefaultRunConfig())
	if !result.Success {
		t.Fatalf("expected success against a local server, got %+v", result)
	}
	if _, ok := result.Metrics["latency_p50_ms"]; !ok {
		t.Fatalf("expected latency metrics, got %v", result.Metrics)
	}
}

func TestPerformanceSuiteUnreachable(t *testing.T) {
	client := site.NewClient(site.Config{BaseURL: "http://127.0.0.1:1"})
	result := PerformanceSuite{}.Run(context.Background(), client, DefaultRunConfig())
	if result.Success {
		t.Fatal("expected failure for unreachable host")
	}
}

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
