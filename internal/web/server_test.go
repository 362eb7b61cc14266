package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joestump/transactionsvc/api"
	"github.com/joestump/transactionsvc/internal/apidoc"
	"github.com/joestump/transactionsvc/internal/config"
	"github.com/joestump/transactionsvc/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:             0,
		SpecPath:         config.DefaultSpecPath,
		DocsPath:         config.DefaultDocsPath,
		SwaggerUIURL:     config.DefaultSwaggerUIURL,
		LogLevel:         "info",
		LogFormat:        "text",
		ShutdownTimeout:  time.Second,
		ValidateRequests: true,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	doc, err := apidoc.Parse(context.Background(), api.OpenAPISpec)
	if err != nil {
		t.Fatalf("parse shipped document: %v", err)
	}
	srv, err := New(cfg, doc, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func detail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body["detail"]
}

func TestRootReturnsMessage(t *testing.T) {
	srv := newTestServer(t, testConfig())

	for _, target := range []string{"/", "/?foo=bar&x=1"} {
		req := httptest.NewRequest("GET", target, nil)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Custom", "anything")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", target, w.Code)
		}
		if w.Body.String() != "TransactionMicroservice is running" {
			t.Fatalf("GET %s: unexpected body %q", target, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Fatalf("GET %s: expected text/plain, got %q", target, ct)
		}
	}
}

func TestRootConcurrentRequests(t *testing.T) {
	srv := newTestServer(t, testConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/")
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close() //nolint:errcheck
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK || string(body) != RootMessage {
				errs <- fmt.Errorf("got %d %q", resp.StatusCode, body)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestDocsUI(t *testing.T) {
	srv := newTestServer(t, testConfig())

	for _, target := range []string{"/api-docs", "/api-docs/", "/api-docs/index.html"} {
		w := do(t, srv, "GET", target, "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", target, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
			t.Fatalf("GET %s: expected text/html, got %q", target, ct)
		}
		body := w.Body.String()
		for _, want := range []string{"<title>Transactions API</title>", "SwaggerUIBundle", "swagger-ui-dist@5/swagger-ui-bundle.js", "openapi.json"} {
			if !strings.Contains(body, want) {
				t.Errorf("GET %s: body missing %q", target, want)
			}
		}
	}
}

func TestDocsUIRendersDescriptionFallback(t *testing.T) {
	srv := newTestServer(t, testConfig())
	body := do(t, srv, "GET", "/api-docs", "", "").Body.String()
	if !strings.Contains(body, "<strong>USD</strong>") {
		t.Error("expected the noscript fallback to render the document description")
	}
}

func TestDocsCustomPath(t *testing.T) {
	cfg := testConfig()
	cfg.DocsPath = "/docs"
	srv := newTestServer(t, cfg)

	if w := do(t, srv, "GET", "/docs", "", ""); w.Code != http.StatusOK {
		t.Fatalf("GET /docs: expected 200, got %d", w.Code)
	}
	if w := do(t, srv, "GET", "/docs/openapi.json", "", ""); w.Code != http.StatusOK {
		t.Fatalf("GET /docs/openapi.json: expected 200, got %d", w.Code)
	}
	if w := do(t, srv, "GET", "/api-docs", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET /api-docs: expected 404 after moving docs, got %d", w.Code)
	}
}

func TestSpecJSON(t *testing.T) {
	srv := newTestServer(t, testConfig())
	w := do(t, srv, "GET", "/api-docs/openapi.json", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.OpenAPI != "3.0.3" || doc.Info.Title != "Transactions API" {
		t.Errorf("unexpected document header: %+v", doc)
	}
}

func TestSpecYAMLIsRawDocument(t *testing.T) {
	srv := newTestServer(t, testConfig())
	w := do(t, srv, "GET", "/api-docs/openapi.yaml", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != string(api.OpenAPISpec) {
		t.Error("openapi.yaml should be served byte-for-byte")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testConfig())
	w := do(t, srv, "GET", "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestRequestIDAssignedAndPropagated(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := do(t, srv, "GET", "/", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestListenBindsConfiguredPort(t *testing.T) {
	// Reserve a free port, release it, then ask the server to bind it.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	_ = probe.Close()

	cfg := testConfig()
	cfg.Port = port
	srv := newTestServer(t, cfg)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if !strings.HasSuffix(srv.Addr(), fmt.Sprintf(":%d", port)) {
		t.Fatalf("Addr() = %q, want port %d", srv.Addr(), port)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /: expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v after shutdown", err)
	}
}

func TestListenPortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close() //nolint:errcheck

	cfg := testConfig()
	cfg.Port = busy.Addr().(*net.TCPAddr).Port
	srv := newTestServer(t, cfg)
	if err := srv.Listen(); err == nil {
		t.Fatal("expected bind error for a port already in use")
	}
}

func TestServeWithoutListen(t *testing.T) {
	srv := newTestServer(t, testConfig())
	if err := srv.Serve(); err == nil {
		t.Fatal("expected an error when serving before Listen")
	}
}
