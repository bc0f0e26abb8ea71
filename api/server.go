package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/worldsync/game/service"
	"github.com/wricardo/worldsync/game/session"
	"github.com/wricardo/worldsync/transport/protocol"
	"github.com/wricardo/worldsync/transport/websocket"
)

// Server represents the admin REST API server
type Server struct {
	service service.WorldService
	hub     *websocket.Hub
	router  *mux.Router
	log     *zap.Logger
}

// NewServer creates a new API server. hub may be nil to disable /ws.
func NewServer(worldService service.WorldService, hub *websocket.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		service: worldService,
		hub:     hub,
		router:  mux.NewRouter(),
		log:     log.Named("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Players (online must be before {uuid} pattern)
	api.HandleFunc("/players", s.handleListPlayers).Methods("GET")
	api.HandleFunc("/players/online", s.handleOnlinePlayers).Methods("GET")
	api.HandleFunc("/players/{uuid}", s.handleGetPlayer).Methods("GET")

	// Server
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/schema", s.handleSchema).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Spectators
	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWS)
	}
}

// Router exposes the router so callers can mount extra handlers
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Player Handlers

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.service.ListPlayers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total := len(players)

	// Parse query parameters
	query := r.URL.Query()
	sortBy := query.Get("sort")    // "username" (default), "last_seen"
	order := query.Get("order")    // "asc" (default), "desc"
	limitStr := query.Get("limit") // number of players to return
	onlineOnly := query.Get("online") == "true"

	if sortBy == "" {
		sortBy = "username"
	}
	if order == "" {
		order = "asc"
	}

	if onlineOnly {
		filtered := players[:0]
		for _, p := range players {
			if p.Online {
				filtered = append(filtered, p)
			}
		}
		players = filtered
	}

	if sortBy == "last_seen" {
		sort.SliceStable(players, func(i, j int) bool {
			return players[i].LastSeen.Before(players[j].LastSeen)
		})
	}
	if order == "desc" {
		for i, j := 0, len(players)-1; i < j; i, j = i+1, j-1 {
			players[i], players[j] = players[j], players[i]
		}
	}

	// Apply limit if specified
	limit := len(players)
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(players) {
			limit = l
		}
	}
	players = players[:limit]

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(players),
		"total":   total,
		"players": players,
		"sort":    sortBy,
		"order":   order,
	})
}

func (s *Server) handleOnlinePlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.service.OnlinePlayers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, protocol.NewSnapshot(players))
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["uuid"]

	player, err := s.service.GetPlayer(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "player not found: "+id)
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, player)
}

// Server Handlers

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schemas := protocol.Schemas()

	if name := r.URL.Query().Get("name"); name != "" {
		schema, ok := schemas[name]
		if !ok {
			respondError(w, http.StatusNotFound, "unknown message: "+name)
			return
		}
		respondJSON(w, http.StatusOK, schema)
		return
	}

	respondJSON(w, http.StatusOK, schemas)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
