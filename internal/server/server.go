// Package server exposes note generation over HTTP.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/memory"
	"github.com/TobiSchelling/hotnote/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

const (
	maxBodyBytes    = 64 << 10
	historyPageSize = 50
	requestIDHeader = "X-Request-ID"
)

// Generator produces a note for one request.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) *pipeline.Result
}

// GenerateRequest is the POST /generate body.
type GenerateRequest struct {
	Topic        string `json:"topic"`
	TopicProfile string `json:"topic_profile,omitempty"`
}

// GenerateResponse is the POST /generate reply.
type GenerateResponse struct {
	Markdown string        `json:"markdown"`
	Meta     pipeline.Meta `json:"meta"`
}

// Server is the HTTP server for generating and previewing notes.
type Server struct {
	gen    Generator
	store  memory.Store
	pages  map[string]*template.Template
	mux    *http.ServeMux
	logger *zap.Logger
}

// New creates a new Server.
func New(gen Generator, store memory.Store, logger *zap.Logger) (*Server, error) {
	if store == nil {
		store = memory.Nop{}
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone so their "content" blocks do not collide.
	pageNames := []string{"index.html", "note.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		gen:    gen,
		store:  store,
		pages:  pages,
		mux:    http.NewServeMux(),
		logger: logging.OrNop(logger),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /generate", s.handleGenerate)
	s.mux.HandleFunc("GET /notes/{id}", s.handleNote)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	topic := strings.TrimSpace(body.Topic)
	if topic == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic must not be blank"})
		return
	}

	result := s.gen.Generate(r.Context(), pipeline.Request{
		Topic:     topic,
		Profile:   body.TopicProfile,
		RequestID: strings.TrimSpace(r.Header.Get(requestIDHeader)),
	})

	w.Header().Set(requestIDHeader, result.Meta.RequestID)
	writeJSON(w, http.StatusOK, GenerateResponse{Markdown: result.Markdown, Meta: result.Meta})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	gens, err := s.store.RecentGenerations(r.Context(), historyPageSize)
	if err != nil {
		s.logger.Error("history.load_failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "index.html", map[string]any{"Generations": gens})
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	gen, err := s.store.GetGeneration(r.Context(), id)
	if err != nil {
		s.logger.Error("note.load_failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if gen == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "note.html", map[string]any{
		"Generation": gen,
		"Meta":       prettyJSON(gen.Meta),
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template.missing", zap.String("name", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("template.render_failed", zap.String("name", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs the server on addr (host:port) until ctx is canceled, then
// shuts down gracefully.
func Serve(ctx context.Context, srv *Server, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("server.listening", zap.String("addr", "http://"+addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
