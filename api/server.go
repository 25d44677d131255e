// Package api exposes the small internal HTTP surface named in §4.12:
// the live stream and track endpoints, a health check, and nothing else
// -- the spec's HTTP surface is deliberately narrow, unlike the
// teacher's large dashboard API this package replaces.
package api

import (
	"compress/gzip"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"marketpulse/livestream"
	"marketpulse/storegateway"
)

// Server wires the live stream and track handlers behind the teacher's
// gzip -> cors -> logging middleware chain, grounded on api/server.go.
type Server struct {
	store   *storegateway.Store
	stream  *livestream.Handler
	tracker *livestream.TrackHandler
}

func NewServer(store *storegateway.Store, stream *livestream.Handler, tracker *livestream.TrackHandler) *Server {
	return &Server{store: store, stream: stream, tracker: tracker}
}

func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /stream", s.stream)
	mux.Handle("POST /track", s.tracker)

	handler := s.gzipMiddleware(s.corsMiddleware(s.loggingMiddleware(mux)))

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 API server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (g *gzipResponseWriter) Write(data []byte) (int, error) {
	return g.writer.Write(data)
}

// gzipMiddleware compresses non-streaming responses; /stream is excluded
// since it must flush incrementally.
func (s *Server) gzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stream" || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}
