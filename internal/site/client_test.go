package site

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientGetResolvesRelativePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "User-agent: *\n")
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/"})
	resp, err := client.Get(context.Background(), "robots.txt")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), "User-agent") {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
	if resp.Duration <= 0 {
		t.Fatal("expected a measured duration")
	}
}

func TestClientSendsUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, UserAgent: "deploycheck-test/9"})
	if _, err := client.Get(context.Background(), "/"); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if gotUA != "deploycheck-test/9" {
		t.Fatalf("expected custom user agent, got %q", gotUA)
	}
}

func TestClientCapsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 4096))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, MaxBodyBytes: 1024})
	resp, err := client.Get(context.Background(), "/")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(resp.Body) != 1024 {
		t.Fatalf("expected capped body of 1024, got %d", len(resp.Body))
	}
	if !resp.Truncated {
		t.Fatal("expected truncated flag")
	}
}

func TestClientFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	})

	client := NewClient(Config{BaseURL: server.URL})
	resp, err := client.Get(context.Background(), "/old")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !strings.HasSuffix(resp.FinalURL, "/new") {
		t.Fatalf("expected final URL at /new, got %s", resp.FinalURL)
	}
	if !resp.IsHTML() {
		t.Fatal("expected HTML content type")
	}
}

func TestClientHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	resp, err := client.Head(context.Background(), "/")
	if err != nil {
		t.Fatalf("Head error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestClientContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Get(ctx, "/"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestResponseHeaderNilSafe(t *testing.T) {
	var resp *Response
	if resp.Header("Content-Type") != "" {
		t.Fatal("nil response must return empty header")
	}
	if resp.IsHTML() {
		t.Fatal("nil response must not report HTML")
	}
}
