// Package web serves the local dashboard: system status, the comment
// inbox, open questions, and the compiled research document.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"arf/internal/document"
	"arf/internal/logging"
	"arf/internal/state"
)

// Server is the dashboard HTTP server.
type Server struct {
	store *state.Store
	docs  *document.Manager
	log   *zap.Logger

	httpSrv *http.Server
}

// NewServer wires the dashboard over the state store and document
// manager.
func NewServer(addr string, store *state.Store, docs *document.Manager, log *zap.Logger) *Server {
	s := &Server{store: store, docs: docs, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/comments", s.handleGetComments)
	mux.HandleFunc("POST /api/comments", s.handlePostComment)
	mux.HandleFunc("GET /api/questions", s.handleQuestions)
	mux.HandleFunc("GET /api/document/pdf", s.handlePDF)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start listens and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("dashboard listen failed: %w", err)
	}
	s.log.Info("dashboard listening", zap.String("addr", ln.Addr().String()))
	logging.Web("dashboard listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap := s.store.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexHTML,
		snap.FrameworkVersion,
		snap.LastCheckpoint.Format(time.RFC3339),
		len(snap.ProcessedChats),
		len(snap.PendingValidations),
		len(snap.PendingQuestions))
}

const indexHTML = `<!doctype html>
<html>
<head><title>ARF Dashboard</title></head>
<body>
<h1>Autonomous Research Framework</h1>
<p>Framework version: %s</p>
<p>Last checkpoint: %s</p>
<ul>
  <li>Processed chats: %d</li>
  <li>Pending validations: %d</li>
  <li>Open questions: %d</li>
</ul>
<p>API: <a href="/api/status">/api/status</a>,
<a href="/api/comments">/api/comments</a>,
<a href="/api/questions">/api/questions</a>,
<a href="/api/document/pdf">/api/document/pdf</a></p>
</body>
</html>
`

type statusResponse struct {
	LastCheckpoint     time.Time `json:"last_checkpoint"`
	ProcessedChats     int       `json:"processed_chats"`
	PendingValidations int       `json:"pending_validations"`
	PendingQuestions   int       `json:"pending_questions"`
	FrameworkVersion   string    `json:"framework_version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		LastCheckpoint:     snap.LastCheckpoint,
		ProcessedChats:     len(snap.ProcessedChats),
		PendingValidations: len(snap.PendingValidations),
		PendingQuestions:   len(snap.PendingQuestions),
		FrameworkVersion:   snap.FrameworkVersion,
	})
}

func (s *Server) handleGetComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.docs.PendingComments()
	if err != nil {
		s.log.Error("comments read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read comments")
		return
	}
	if comments == nil {
		comments = []state.Comment{}
	}
	writeJSON(w, http.StatusOK, map[string][]state.Comment{"pending": comments})
}

type postCommentRequest struct {
	Text    string `json:"text"`
	Section string `json:"section"`
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request) {
	var req postCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Section == "" {
		req.Section = "general"
	}

	c := state.Comment{
		Text:      req.Text,
		Section:   req.Section,
		Source:    "web",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.docs.AddComment(c); err != nil {
		s.log.Error("comment save failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save comment")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "comment": c})
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	questions := snap.PendingQuestions
	if questions == nil {
		questions = []state.Question{}
	}
	writeJSON(w, http.StatusOK, map[string][]state.Question{"questions": questions})
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	path := s.docs.PDFPath()
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "PDF not compiled yet")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
