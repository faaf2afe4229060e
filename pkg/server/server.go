// Package server exposes the HTTP surface: feed ingestion (plain and SSE),
// history, chat, conversations, auth, settings, usage stats, RAG admin and
// the daily dimension summary. Handlers stay thin; domain logic lives in the
// packages they call into.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vibingu/vibingu/pkg/auth"
	"github.com/vibingu/vibingu/pkg/chat"
	"github.com/vibingu/vibingu/pkg/config"
	"github.com/vibingu/vibingu/pkg/imagestore"
	"github.com/vibingu/vibingu/pkg/ingest"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/store"
	"github.com/vibingu/vibingu/pkg/vector"
)

// Ingestor is the ingestion pipeline surface the server drives.
type Ingestor interface {
	Ingest(ctx context.Context, req *ingest.Request) (*ingest.FeedResponse, error)
	IngestStream(ctx context.Context, req *ingest.Request) (<-chan ingest.Event, error)
	Regenerate(ctx context.Context, recordID string, phases []string) (*ingest.RegenerateResult, error)
	Delete(ctx context.Context, id string) error
}

// ChatService is the conversational surface.
type ChatService interface {
	Stream(ctx context.Context, conversationID, message string) (*chat.Meta, <-chan chat.Token, error)
	Message(ctx context.Context, message string, history []chat.HistoryPair) (string, error)
}

// VectorAdmin covers the index maintenance endpoints.
type VectorAdmin interface {
	StatsFor(recordCount int) vector.Stats
	Reindex(ctx context.Context, records []*store.LifeRecord) error
}

// UsageStats is the ledger aggregation surface.
type UsageStats interface {
	TodayStats(ctx context.Context, now time.Time) (*ledger.Stats, error)
	WeekStats(ctx context.Context, now time.Time) (*ledger.Stats, error)
	MonthStats(ctx context.Context, now time.Time) (*ledger.Stats, error)
	DailyTrend(ctx context.Context, days int, now time.Time) ([]ledger.DayStat, error)
}

// Deps collects everything the server needs.
type Deps struct {
	Store  *store.Store
	Usage  UsageStats
	Ingest Ingestor
	Chat   ChatService
	Vector VectorAdmin
	Auth   *auth.Manager
	Images *imagestore.Store
}

// Server is the HTTP front of the service.
type Server struct {
	cfg    config.ServerConfig
	store  *store.Store
	usage  UsageStats
	ingest Ingestor
	chat   ChatService
	vector VectorAdmin
	auth   *auth.Manager
	images *imagestore.Store
	router *chi.Mux
	loc    *time.Location
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	s := &Server{
		cfg:    cfg,
		store:  deps.Store,
		usage:  deps.Usage,
		ingest: deps.Ingest,
		chat:   deps.Chat,
		vector: deps.Vector,
		auth:   deps.Auth,
		images: deps.Images,
		loc:    loc,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(recoverPanic)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))
	r.Use(logRequests)
	r.Use(measureRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/feed", s.handleFeed)
		r.Post("/feed/stream", s.handleFeedStream)
		r.Get("/feed/history", s.handleHistory)
		r.Get("/feed/image/*", s.handleImage)
		r.Get("/feed/{id}", s.handleRecord)
		r.With(s.auth.Require).Post("/feed/{id}/regenerate", s.handleRegenerate)
		r.With(s.auth.Require).Delete("/feed/{id}", s.handleDelete)
		r.With(s.auth.Require).Patch("/feed/{id}/visibility", s.handleVisibility)
		r.With(s.auth.Require).Patch("/feed/{id}/bookmark", s.handleBookmark)

		r.Post("/chat/stream", s.handleChatStream)
		r.Post("/chat/message", s.handleChatMessage)
		r.Get("/chat/conversations", s.handleListConversations)
		r.Post("/chat/conversations", s.handleCreateConversation)
		r.Get("/chat/conversations/{id}", s.handleGetConversation)
		r.Patch("/chat/conversations/{id}", s.handleRenameConversation)
		r.Delete("/chat/conversations/{id}", s.handleDeleteConversation)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/verify", s.handleVerify)
		r.Post("/auth/logout", s.handleLogout)

		r.Get("/settings/nickname", s.handleGetNickname)
		r.Put("/settings/nickname", s.handleSetNickname)

		r.Get("/tokens/stats", s.handleTokenStats)
		r.Get("/tokens/trend", s.handleTokenTrend)

		r.Get("/rag/stats", s.handleRAGStats)
		r.With(s.auth.Require).Post("/rag/reindex", s.handleRAGReindex)

		r.Get("/dimensions/daily", s.handleDailySummary)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
