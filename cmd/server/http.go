package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/ugaemi/patrol-server/internal/arena"
	"github.com/ugaemi/patrol-server/internal/character"
	"github.com/ugaemi/patrol-server/internal/handler"
	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/store"
	"github.com/ugaemi/patrol-server/internal/visibility"
	"github.com/ugaemi/patrol-server/internal/ws"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type server struct {
	arena      *arena.Arena
	roster     *character.Roster
	supervisor *character.Supervisor
	journal    store.Journal
	hub        *ws.Hub
	router     *handler.Router
	bridge     *visibility.Bridge
}

// dropCounter is implemented by journals that shed events under load.
type dropCounter interface {
	Dropped() uint64
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /characters", s.handleCharacters)
	mux.HandleFunc("GET /characters/{id}", s.handleCharacter)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /schema/action", handleActionSchema)
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewClient(s.hub, conn)
	s.hub.Register <- client
	s.router.StartHelloTimeout(client)

	go client.WritePump()
	go client.ReadPump()
}

type charactersResponse struct {
	AreaID         uint64                `json:"area_id"`
	Target         uint64                `json:"target"`
	PendingSamples int                   `json:"pending_samples"`
	JournalDropped uint64                `json:"journal_dropped"`
	Clients        int                   `json:"clients"`
	Characters     []character.Snapshot  `json:"characters"`
	Tasks          []character.TaskStats `json:"tasks"`
}

func (s *server) handleCharacters(w http.ResponseWriter, _ *http.Request) {
	target := s.arena.Target()
	resp := charactersResponse{
		AreaID:     s.arena.ID(),
		Target:     target,
		Clients:    s.hub.ClientCount(),
		Characters: []character.Snapshot{},
		Tasks:      s.supervisor.Tasks(),
	}
	if target != 0 {
		resp.PendingSamples = s.bridge.Pending(target)
	}
	if dc, ok := s.journal.(dropCounter); ok {
		resp.JournalDropped = dc.Dropped()
	}
	for _, c := range s.roster.All() {
		resp.Characters = append(resp.Characters, c.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCharacter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid character id"})
		return
	}
	c := s.roster.Get(id)
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "character not found"})
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.journal.Recent(r.Context(), limit)
	if errors.Is(err, store.ErrUnsupported) {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("failed to read journal", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func handleActionSchema(w http.ResponseWriter, _ *http.Request) {
	schema, err := protocol.ActionSchema()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	w.Write(schema)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
