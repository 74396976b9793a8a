package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/config"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/target"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Stage is the presentation surface controls exposed over HTTP
type Stage interface {
	Next() int
	Previous() int
	GoTo(i int) error
	Current() int
	SetNotification(text string)
	ClearNotification()
	Notification() string
	SetAnimated(animated bool)
	HasAnimatedContent() bool
	IsTransitionInProgress() bool
}

// streamer is implemented by sinks that serve their output over HTTP
type streamer interface {
	StreamHandler() http.HandlerFunc
	StatsHandler() http.HandlerFunc
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	configMgr *config.Manager
	stage     Stage
	targets   map[string]*target.Target
	names     []string
	upgrader  websocket.Upgrader

	statsInterval time.Duration

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, stage Stage, targets []*target.Target) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		configMgr: configMgr,
		stage:     stage,
		targets:   make(map[string]*target.Target, len(targets)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // control surface runs on the local network
			},
		},
		statsInterval: time.Second,
	}
	for _, t := range targets {
		s.targets[t.Name()] = t
		s.names = append(s.names, t.Name())
	}
	sort.Strings(s.names)

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Display targets
	api.HandleFunc("/targets", s.handleListTargets).Methods("GET")
	api.HandleFunc("/targets/{name}", s.handleGetTarget).Methods("GET")
	api.HandleFunc("/targets/{name}/active", s.handleSetActive(true)).Methods("POST")
	api.HandleFunc("/targets/{name}/active", s.handleSetActive(false)).Methods("DELETE")

	// Stage control
	api.HandleFunc("/stage", s.handleGetStage).Methods("GET")
	api.HandleFunc("/stage/next", s.handleNext).Methods("POST")
	api.HandleFunc("/stage/previous", s.handlePrevious).Methods("POST")
	api.HandleFunc("/stage/slide", s.handleGoTo).Methods("PUT")
	api.HandleFunc("/stage/notification", s.handleSetNotification).Methods("PUT")
	api.HandleFunc("/stage/notification", s.handleClearNotification).Methods("DELETE")
	api.HandleFunc("/stage/animated", s.handleSetAnimated).Methods("PUT")

	// Live stats
	api.HandleFunc("/stats/stream", s.handleStatsStream)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Sink-served video (MJPEG) and per-stream stats pages
	s.router.HandleFunc("/stream/{name}", s.handleSinkRoute(streamer.StreamHandler)).Methods("GET")
	s.router.HandleFunc("/stats/{name}", s.handleSinkRoute(streamer.StatsHandler)).Methods("GET")

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().
		Str("addr", "http://localhost"+addr).
		Msg("Starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*target.Target, bool) {
	name := mux.Vars(r)["name"]
	t, ok := s.targets[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", config.ErrTargetNotFound, name))
		return nil, false
	}
	return t, true
}

// HTTP Handlers

func (s *Server) targetStats() []target.Stats {
	stats := make([]target.Stats, 0, len(s.names))
	for _, name := range s.names {
		stats = append(stats, s.targets[name].Stats())
	}
	return stats
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.targetStats())
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.Stats())
}

// handleSetActive persists the flag; the config manager's active callback
// switches the running target
func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.lookup(w, r)
		if !ok {
			return
		}
		if err := s.configMgr.SetActive(t.Name(), active); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, config.ErrTargetNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"name": t.Name(), "active": active})
	}
}

type stageStatus struct {
	Slide        int    `json:"slide"`
	Transition   bool   `json:"transition"`
	Animated     bool   `json:"animated"`
	Notification string `json:"notification"`
}

func (s *Server) stageStatus() stageStatus {
	return stageStatus{
		Slide:        s.stage.Current(),
		Transition:   s.stage.IsTransitionInProgress(),
		Animated:     s.stage.HasAnimatedContent(),
		Notification: s.stage.Notification(),
	}
}

func (s *Server) handleGetStage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stageStatus())
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.stage.Next()
	writeJSON(w, http.StatusOK, s.stageStatus())
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.stage.Previous()
	writeJSON(w, http.StatusOK, s.stageStatus())
}

func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"index": <n>}`))
		return
	}
	if err := s.stage.GoTo(*req.Index); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stageStatus())
}

func (s *Server) handleSetNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.stage.SetNotification(req.Text)
	writeJSON(w, http.StatusOK, s.stageStatus())
}

func (s *Server) handleClearNotification(w http.ResponseWriter, r *http.Request) {
	s.stage.ClearNotification()
	writeJSON(w, http.StatusOK, s.stageStatus())
}

func (s *Server) handleSetAnimated(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Animated bool `json:"animated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.stage.SetAnimated(req.Animated)
	writeJSON(w, http.StatusOK, s.stageStatus())
}

// statsMessage is pushed to websocket clients once per interval
type statsMessage struct {
	Time    time.Time      `json:"time"`
	Stage   stageStatus    `json:"stage"`
	Targets []target.Stats `json:"targets"`
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		msg := statsMessage{Time: time.Now(), Stage: s.stageStatus(), Targets: s.targetStats()}
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleSinkRoute(pick func(streamer) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.lookup(w, r)
		if !ok {
			return
		}
		st, ok := t.Sink().(streamer)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("target %s sends to %s, which is not served over HTTP", t.Name(), t.Sink().Name()))
			return
		}
		pick(st)(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"targets": len(s.targets),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>StageFeed</title>
    <style>
        body { font-family: sans-serif; max-width: 800px; margin: 40px auto; background: #1e1e1e; color: #d4d4d4; }
        a { color: #4ec9b0; }
    </style>
</head>
<body>
    <h1>StageFeed</h1>
    <ul>
`)
	for _, name := range s.names {
		t := s.targets[name]
		n := html.EscapeString(name)
		if _, ok := t.Sink().(streamer); ok {
			fmt.Fprintf(w, "        <li>%s: <a href=\"/stream/%s\">stream</a> | <a href=\"/stats/%s\">stats</a></li>\n", n, n, n)
		} else {
			fmt.Fprintf(w, "        <li>%s (%s)</li>\n", n, html.EscapeString(t.Sink().Name()))
		}
	}
	fmt.Fprint(w, `    </ul>
    <p><a href="/api/targets">/api/targets</a> | <a href="/api/health">/api/health</a></p>
</body>
</html>`)
}
