package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

// StateProvider exposes the forwarder's last published state
type StateProvider interface {
	Snapshot() *domain.RelayState
}

// Archiver queues a conversation for archival
type Archiver interface {
	Archive(conversationID string)
}

// ConversationList is the body of GET /api/conversations
type ConversationList struct {
	Conversations       []*domain.ConversationRecord `json:"conversations"`
	LastDiscoveryScanAt time.Time                    `json:"last_discovery_scan_at"`
	Archived            []string                     `json:"archived,omitempty"`
}

// Server provides the operator HTTP API of the forwarder
type Server struct {
	state    StateProvider
	archiver Archiver
	addr     string
	log      zerolog.Logger

	server *http.Server
}

// NewServer creates a new API server. A nil archiver makes the API read-only.
func NewServer(state StateProvider, archiver Archiver, addr string, log zerolog.Logger) *Server {
	s := &Server{
		state:    state,
		archiver: archiver,
		addr:     addr,
		log:      log,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleArchive)
	})
	return r
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	st := s.state.Snapshot()
	list := ConversationList{
		Conversations:       make([]*domain.ConversationRecord, 0, len(st.Conversations)),
		LastDiscoveryScanAt: st.LastDiscoveryScanAt,
	}
	for _, id := range st.ConversationIDs() {
		rec, _ := st.Conversation(id)
		list.Conversations = append(list.Conversations, rec)
	}
	for id := range st.Archived {
		list.Archived = append(list.Archived, id)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.state.Snapshot().Conversation(id)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		writeError(w, http.StatusMethodNotAllowed, "archival disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.state.Snapshot().Conversation(id); !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.archiver.Archive(id)
	s.log.Info().Str("conversation_id", id).Msg("archive requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "conversation_id": id})
}

// ============ Helpers ============

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
