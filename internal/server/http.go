package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribblesense/scribblesense/internal/auth"
	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/catalog"
	"github.com/scribblesense/scribblesense/internal/config"
	"github.com/scribblesense/scribblesense/internal/grammar"
	"github.com/scribblesense/scribblesense/internal/metrics"
	"github.com/scribblesense/scribblesense/internal/ocr"
	"github.com/scribblesense/scribblesense/internal/profile"
	"github.com/scribblesense/scribblesense/internal/remote"
	"github.com/scribblesense/scribblesense/internal/speech"
	"github.com/scribblesense/scribblesense/internal/store"
)

const version = "1.0.0"

// Dependencies are the components the HTTP API serves.
type Dependencies struct {
	Config   *config.Config
	Sessions *capture.Manager
	OCR      ocr.Extractor
	Speech   speech.Transcriber
	Grammar  grammar.Checker
	Catalog  *catalog.Catalog
	Activity *store.ActivityStore // optional
	Profiles profile.Store        // nil keeps profiles in memory
	Auth     *auth.Verifier
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // nil uses the default registry
	Clients  []*remote.Client    // reported by /stats
}

// HTTPServer provides the ScribbleSense API and the ops endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	sessions *capture.Manager
	ocr      ocr.Extractor
	speech   speech.Transcriber
	grammar  grammar.Checker
	catalog  *catalog.Catalog
	activity *store.ActivityStore
	profiles profile.Store
	auth     *auth.Verifier
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	clients  []*remote.Client
	upgrader websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(logger *slog.Logger, deps Dependencies) (*HTTPServer, error) {
	if deps.Config == nil || deps.Sessions == nil || deps.Catalog == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("config, sessions, catalog and metrics are required")
	}
	if deps.Auth == nil {
		v, err := auth.NewVerifier(auth.Config{})
		if err != nil {
			return nil, err
		}
		deps.Auth = v
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Profiles == nil {
		deps.Profiles = profile.NewMemoryStore()
	}

	h := &HTTPServer{
		logger:    logger,
		config:    deps.Config,
		sessions:  deps.Sessions,
		ocr:       deps.OCR,
		speech:    deps.Speech,
		grammar:   deps.Grammar,
		catalog:   deps.Catalog,
		activity:  deps.Activity,
		profiles:  deps.Profiles,
		auth:      deps.Auth,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		clients:   deps.Clients,
		startTime: time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	router := mux.NewRouter()
	h.setupRoutes(router)

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", deps.Config.HTTP.Address, deps.Config.HTTP.Port),
		Handler:           h.withCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// No write timeout: submit waits on the remote service and
		// websocket connections stay open.
		IdleTimeout: 60 * time.Second,
	}

	return h, nil
}

// Handler returns the root handler, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r *mux.Router) {
	// Ops endpoints
	r.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	requireUser := mux.MiddlewareFunc(auth.Middleware(h.auth, h.logger))

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireUser)

	api.HandleFunc("/me", h.withMetrics("/api/me", h.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.withMetrics("/api/profile", h.handleGetProfile)).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.withMetrics("/api/profile", h.handleUpdateProfile)).Methods(http.MethodPut)

	// Capture sessions
	api.HandleFunc("/sessions", h.withMetrics("/api/sessions", h.handleStartSession)).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.withMetrics("/api/sessions", h.handleListSessions)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.withMetrics("/api/sessions/{id}", h.handleGetSession)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.withMetrics("/api/sessions/{id}", h.handleRemoveSession)).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/record", h.withMetrics("/api/sessions/{id}/record", h.handleRecord)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/audio", h.withMetrics("/api/sessions/{id}/audio", h.handleAppendAudio)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/strokes", h.withMetrics("/api/sessions/{id}/strokes", h.handleDraw)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/clear", h.withMetrics("/api/sessions/{id}/clear", h.handleClear)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stop", h.withMetrics("/api/sessions/{id}/stop", h.handleStop)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/submit", h.withMetrics("/api/sessions/{id}/submit", h.handleSubmit)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", h.withMetrics("/api/sessions/{id}/reset", h.handleReset)).Methods(http.MethodPost)

	// Direct uploads
	api.HandleFunc("/ocr", h.withMetrics("/api/ocr", h.handleOCR)).Methods(http.MethodPost)
	api.HandleFunc("/transcribe", h.withMetrics("/api/transcribe", h.handleTranscribe)).Methods(http.MethodPost)
	api.HandleFunc("/grammar/check", h.withMetrics("/api/grammar/check", h.handleGrammar)).Methods(http.MethodPost)
	api.HandleFunc("/export/docx", h.withMetrics("/api/export/docx", h.handleExport)).Methods(http.MethodPost)

	// Content
	api.HandleFunc("/resources", h.withMetrics("/api/resources", h.handleResources)).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", h.withMetrics("/api/dashboard", h.handleDashboard)).Methods(http.MethodGet)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(requireUser)
	ws.HandleFunc("/sessions/{id}", h.withMetrics("/ws/sessions/{id}", h.handleSessionEvents)).Methods(http.MethodGet)

	// Root endpoint with API documentation
	r.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// withCORS answers preflight requests and tags responses for allowed origins.
func (h *HTTPServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPServer) originAllowed(origin string) bool {
	for _, allowed := range h.config.HTTP.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// checkOrigin accepts same-host websocket handshakes and configured origins.
func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.originAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
		slog.Bool("auth_enabled", h.auth.Enabled()),
	)

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	services := make(map[string]interface{}, len(h.clients))
	for _, c := range h.clients {
		stats := c.GetStats()
		services[stats.Service] = map[string]interface{}{
			"status":          "configured",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "scribblesense",
			"version": version,
		},
		"components": map[string]interface{}{
			"capture": map[string]interface{}{
				"status":            "running",
				"active_recordings": h.sessions.GetActiveSessionCount(),
			},
			"catalog": map[string]interface{}{
				"status":    "loaded",
				"resources": h.catalog.Len(),
			},
			"activity_store": map[string]interface{}{
				"status": storeStatus(h.activity),
			},
			"services": services,
		},
	}

	writeJSON(w, http.StatusOK, health)
}

func storeStatus(s *store.ActivityStore) string {
	if s == nil {
		return "disabled"
	}
	return "running"
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	service := func(s config.ServiceConfig) map[string]interface{} {
		// API keys are left out.
		return map[string]interface{}{
			"provider":       s.Provider,
			"endpoint":       s.Endpoint,
			"model":          s.Model,
			"timeout":        s.Timeout,
			"max_concurrent": s.MaxConcurrent,
		}
	}

	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":            h.config.HTTP.Port,
			"address":         h.config.HTTP.Address,
			"allowed_origins": h.config.HTTP.AllowedOrigins,
		},
		"services": map[string]interface{}{
			"ocr":     service(h.config.Services.OCR),
			"speech":  service(h.config.Services.Speech),
			"grammar": service(h.config.Services.Grammar),
		},
		"capture": map[string]interface{}{
			"max_recording":    h.config.Capture.MaxRecording,
			"session_timeout":  h.config.Capture.SessionTimeout,
			"max_upload_bytes": h.config.Capture.MaxUploadBytes,
			"sample_rate":      h.config.Capture.SampleRate,
			"canvas_width":     h.config.Capture.CanvasWidth,
			"canvas_height":    h.config.Capture.CanvasHeight,
		},
		"auth": map[string]interface{}{
			"enabled": h.config.Auth.Enabled,
			"issuer":  h.config.Auth.Issuer,
		},
		"catalog": map[string]interface{}{
			"path":  h.config.Catalog.Path,
			"watch": h.config.Catalog.Watch,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	services := make([]remote.ClientStats, 0, len(h.clients))
	for _, c := range h.clients {
		services = append(services, c.GetStats())
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"by_status":         h.sessions.Stats(),
			"active_recordings": h.sessions.GetActiveSessionCount(),
		},
		"services": services,
		"catalog": map[string]interface{}{
			"resources": h.catalog.Len(),
		},
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "ScribbleSense API",
		"version": version,
		"endpoints": map[string]interface{}{
			"GET /":                           "API documentation",
			"GET /health":                     "Service health check",
			"GET /config":                     "Service configuration",
			"GET /stats":                      "Service statistics",
			"GET /metrics":                    "Prometheus metrics",
			"GET /api/me":                     "Signed-in user",
			"GET /api/profile":                "Profile and preferences",
			"PUT /api/profile":                "Update profile and preferences",
			"POST /api/sessions":              "Start a capture session",
			"GET /api/sessions":               "List your capture sessions",
			"GET /api/sessions/{id}":          "Capture session details",
			"DELETE /api/sessions/{id}":       "Remove a capture session",
			"POST /api/sessions/{id}/record":  "Record again",
			"POST /api/sessions/{id}/audio":   "Append an audio chunk",
			"POST /api/sessions/{id}/strokes": "Draw strokes",
			"POST /api/sessions/{id}/clear":   "Clear the drawing",
			"POST /api/sessions/{id}/stop":    "Stop recording",
			"POST /api/sessions/{id}/submit":  "Submit for processing",
			"POST /api/sessions/{id}/reset":   "Reset to idle",
			"GET /ws/sessions/{id}":           "Session updates over WebSocket",
			"POST /api/ocr":                   "Extract text from an image",
			"POST /api/transcribe":            "Transcribe audio",
			"POST /api/grammar/check":         "Check grammar",
			"POST /api/export/docx":           "Export text as DOCX",
			"GET /api/resources":              "Learning resources",
			"GET /api/dashboard":              "Dashboard summary",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
