package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/joestump/transactionsvc/internal/apidoc"
	"github.com/joestump/transactionsvc/internal/config"
)

// RootMessage is the body served at GET /.
const RootMessage = "TransactionMicroservice is running"

//go:embed templates/*.html
var templateFS embed.FS

// Server is the HTTP server for the transaction service: the root
// placeholder, the documentation mount, and the contract stubs for every
// operation the OpenAPI document declares.
type Server struct {
	cfg      *config.Config
	doc      *apidoc.Document
	log      *slog.Logger
	mux      *http.ServeMux
	handler  http.Handler
	docsPage []byte
	stubs    *contractStub
	server   *http.Server

	mu sync.Mutex
	ln net.Listener
}

// New creates a server for doc. Nothing is bound until Listen or Start.
func New(cfg *config.Config, doc *apidoc.Document, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		doc: doc,
		log: logger,
		mux: http.NewServeMux(),
	}

	page, err := renderDocsPage(cfg, doc)
	if err != nil {
		return nil, fmt.Errorf("render docs page: %w", err)
	}
	s.docsPage = page

	s.stubs, err = newContractStub(doc, cfg.ValidateRequests)
	if err != nil {
		return nil, fmt.Errorf("build operation router: %w", err)
	}

	s.registerRoutes()
	s.handler = requestID(accessLog(logger, s.mux))

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Listen binds the listening socket. A bind failure (for example, the port
// is already in use) is returned unchanged apart from wrapping.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("server is already listening")
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.server.Addr
}

// Serve accepts connections on the bound listener. It blocks until the
// server is shut down.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	s.log.Info("listening", "addr", ln.Addr().String(), "docs", s.docsURL(ln.Addr()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start binds and serves. It blocks until the server is shut down.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) docsURL(addr net.Addr) string {
	port := s.cfg.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return fmt.Sprintf("http://localhost:%d%s", port, s.cfg.DocsPath)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	docs := s.cfg.DocsPath
	s.mux.HandleFunc("GET "+docs, s.handleDocsUI)
	s.mux.HandleFunc("GET "+docs+"/", s.handleDocsUI)
	s.mux.HandleFunc("GET "+docs+"/openapi.json", s.handleSpecJSON)
	s.mux.HandleFunc("GET "+docs+"/openapi.yaml", s.handleSpecYAML)

	// Everything else is matched against the operations the document declares.
	s.mux.Handle("/", s.stubs)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, RootMessage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocsUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.docsPage)
}

func (s *Server) handleSpecJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.doc.JSON())
}

func (s *Server) handleSpecYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(s.doc.Raw())
}

type docsPageData struct {
	Title       string
	Version     string
	Description template.HTML
	AssetsURL   string
	SpecURL     string
	YAMLURL     string
}

// renderDocsPage renders the Swagger UI page once; the document never
// changes for the life of the process.
func renderDocsPage(cfg *config.Config, doc *apidoc.Document) ([]byte, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/docs.html")
	if err != nil {
		return nil, err
	}
	data := docsPageData{
		Title:       doc.Title(),
		Version:     doc.Version(),
		Description: doc.DescriptionHTML(),
		AssetsURL:   strings.TrimRight(cfg.SwaggerUIURL, "/"),
		SpecURL:     cfg.DocsPath + "/openapi.json",
		YAMLURL:     cfg.DocsPath + "/openapi.yaml",
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
