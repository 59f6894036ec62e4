// Package server exposes the orchestrator over HTTP: POST /query, the
// Server-Sent-Events POST /query/stream, and GET /health (spec §6).
// Adapted from the teacher's internal/server/http.go — the
// RequestID/RealIP/Recoverer/logging/CORS middleware stack and the
// healthz/readyz handler shape are kept verbatim in style — with the
// grpc-gateway mount replaced by direct chi handlers talking to the
// Orchestrator in-process, since SPEC_FULL.md's external surface (§6) is
// plain JSON + SSE with no other gRPC consumer (see DESIGN.md).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knoguchi/ragsentinel/internal/auth"
	"github.com/knoguchi/ragsentinel/internal/chunkstore"
	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/ingestion"
	"github.com/knoguchi/ragsentinel/internal/lexical"
	"github.com/knoguchi/ragsentinel/internal/vector"
)

// Pipeline is the dependency surface the server drives. Satisfied by
// *orchestrator.Orchestrator; kept as an interface so handlers are
// testable without a full pipeline.
type Pipeline interface {
	Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResponse, error)
	QueryStream(ctx context.Context, req domain.QueryRequest) (<-chan domain.StreamEvent, error)
}

// Config holds configuration for the HTTP server.
type Config struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string
	APIKeys        []string
}

// HTTPServer wraps a chi router and http.Server around a Pipeline.
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger
}

// Deps bundles the collaborators health reporting and query handling need
// beyond the Pipeline itself.
type Deps struct {
	Pipeline   Pipeline
	Chunks     chunkstore.Store
	Lexical    *lexical.Index
	Vectors    *vector.Index
	Registerer prometheus.Registerer
	// Ingester populates the corpus POST /ingest writes into. Document
	// parsing/chunking is an external collaborator per spec §1/§6 — this
	// is the supplemented operational endpoint SPEC_FULL.md adds so the
	// service is runnable end to end without a separate ingestion tool.
	Ingester *ingestion.Ingester
}

// New creates an HTTPServer wired to deps.
func New(cfg Config, deps Deps) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.Get("/health", healthHandler(deps))

	if deps.Registerer != nil {
		if reg, ok := deps.Registerer.(prometheus.Gatherer); ok {
			router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		}
	}

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAPIKey(cfg.APIKeys))
		r.Post("/query", queryHandler(deps.Pipeline, logger))
		r.Post("/query/stream", queryStreamHandler(deps.Pipeline, logger))
		if deps.Ingester != nil {
			r.Post("/ingest", ingestHandler(deps.Ingester, logger))
		}
	})

	return &HTTPServer{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute, // streaming LLM responses can run long
			IdleTimeout:  120 * time.Second,
		},
		router: router,
		logger: logger,
	}
}

// Router exposes the underlying chi router, e.g. for tests.
func (s *HTTPServer) Router() *chi.Mux { return s.router }

// Start runs the HTTP server until it is shut down.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func decodeQueryRequest(r *http.Request) (domain.QueryRequest, error) {
	var req domain.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return domain.QueryRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Mode == "" {
		req.Mode = domain.ModeNormal
	}
	return req, nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// queryHandler implements POST /query.
func queryHandler(p Pipeline, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeQueryRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		resp, err := p.Query(r.Context(), req)
		if err != nil {
			logger.Error("query_failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
			writeJSONError(w, http.StatusInternalServerError, "internal error processing query")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// queryStreamHandler implements POST /query/stream as Server-Sent Events:
// `token` events carry answer fragments, a single `metadata` event carries
// the final QueryResponse JSON, then `done` (spec §6). Early exits before
// generation starts (gate abstain, fallback failure) emit only metadata +
// done, since QueryStream's channel never produces a token item in those
// cases; on self-admitted ignorance the answer's token events precede the
// metadata event.
func queryStreamHandler(p Pipeline, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeQueryRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		events, err := p.QueryStream(r.Context(), req)
		if err != nil {
			logger.Error("query_stream_failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
			writeJSONError(w, http.StatusInternalServerError, "internal error processing query")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for ev := range events {
			if ev.Final != nil {
				writeSSE(w, "metadata", ev.Final)
				flusher.Flush()
				break
			}
			writeSSE(w, "token", map[string]string{"text": ev.Token})
			flusher.Flush()
		}
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type ingestRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// ingestHandler implements POST /ingest: chunks content, embeds each
// chunk, and writes it into the chunk store plus both retrieval indexes
// so it becomes reachable by subsequent /query calls. Not part of
// spec §6's core external interface (parsing/chunking/persistence are
// external collaborators there); exposed as the supplemented operational
// endpoint SPEC_FULL.md's ingestion-pipeline component needs to be
// exercised end to end.
func ingestHandler(ig *ingestion.Ingester, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Content == "" {
			writeJSONError(w, http.StatusBadRequest, "content is required")
			return
		}

		result, err := ig.Ingest(r.Context(), req.Content, req.Source)
		if err != nil {
			logger.Error("ingest_failed", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error processing ingest")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"document_id":  result.DocumentID,
			"content_hash": result.ContentHash,
			"chunk_count":  len(result.Chunks),
		})
	}
}

// healthHandler implements GET /health: doc count, chunk count, index size
// (spec §6).
func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunkCount := 0
		docIDs := make(map[string]struct{})
		if deps.Chunks != nil {
			if all, err := deps.Chunks.All(r.Context()); err == nil {
				chunkCount = len(all)
				for _, c := range all {
					docIDs[c.DocumentID] = struct{}{}
				}
			}
		}

		indexSize := 0
		if deps.Lexical != nil {
			indexSize = deps.Lexical.Size()
		}
		vectorSize := 0
		if deps.Vectors != nil {
			vectorSize = deps.Vectors.Size()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"doc_count":   len(docIDs),
			"chunk_count": chunkCount,
			"index_size":  indexSize,
			"vector_size": vectorSize,
		})
	}
}

func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
