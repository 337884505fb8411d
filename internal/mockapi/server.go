// Package mockapi serves canned OCR, speech and grammar responses in the
// envelopes the real services use. It backs local development and tests.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/scribblesense/scribblesense/internal/grammar"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/ocr"
)

// Endpoint paths.
const (
	OCRPath        = "/api/ocr"
	TranscribePath = "/api/transcribe"
	GrammarPath    = "/api/grammar/check"
)

// Config contains mock backend behaviour
type Config struct {
	Latency        time.Duration // simulated processing time
	MaxUploadBytes int64
	Reject         bool // answer every request with success=false
}

// Server is the mock backend.
type Server struct {
	config  Config
	logger  *slog.Logger
	checker *grammar.RuleChecker

	mu   sync.Mutex
	hits map[string]int
}

// New creates a mock backend.
func New(config Config, logger *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 32 << 20
	}
	return &Server{
		config:  config,
		logger:  logger,
		checker: grammar.NewRuleChecker(),
		hits:    make(map[string]int),
	}
}

// Handler returns the routes of the mock backend.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(OCRPath, s.handleOCR).Methods(http.MethodPost)
	r.HandleFunc(TranscribePath, s.handleTranscribe).Methods(http.MethodPost)
	r.HandleFunc(GrammarPath, s.handleGrammar).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
	}).Methods(http.MethodGet)
	return r
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) hit(path string) {
	s.mu.Lock()
	s.hits[path]++
	s.mu.Unlock()
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	s.hit(OCRPath)

	lang, data, header, ok := s.readUpload(w, r, "image")
	if !ok {
		return
	}

	img, err := ocr.Validate(ocr.Image{Name: header, Data: data})
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("OCR request received",
		slog.String("file", img.Name),
		slog.String("content_type", img.ContentType),
		slog.Int("size", len(img.Data)),
		slog.String("language", lang.String()),
	)

	if !s.wait(r.Context()) {
		return
	}
	if s.config.Reject {
		fail(w, http.StatusOK, "Could not extract text from the image")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Text extracted successfully",
		"data": map[string]interface{}{
			"extractedText": extractedTexts[lang],
			"language":      lang,
			"fileName":      img.Name,
		},
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	s.hit(TranscribePath)

	lang, data, header, ok := s.readUpload(w, r, "audio")
	if !ok {
		return
	}
	if len(data) == 0 {
		fail(w, http.StatusBadRequest, "Audio file is empty")
		return
	}

	s.logger.Info("Transcription request received",
		slog.String("file", header),
		slog.Int("size", len(data)),
		slog.String("language", lang.String()),
	)

	if !s.wait(r.Context()) {
		return
	}
	if s.config.Reject {
		fail(w, http.StatusOK, "Speech could not be recognised")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"transcription": transcriptions[lang],
		"message":       "Transcription completed",
	})
}

func (s *Server) handleGrammar(w http.ResponseWriter, r *http.Request) {
	s.hit(GrammarPath)

	var req grammar.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxUploadBytes)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res, err := s.checker.Check(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, grammar.ErrEmptyText) && !errors.Is(err, grammar.ErrUnknownCheckType) && !errors.Is(err, language.ErrUnsupported) {
			status = http.StatusInternalServerError
		}
		fail(w, status, err.Error())
		return
	}

	s.logger.Info("Grammar request received",
		slog.String("language", req.Language.String()),
		slog.Int("errors", len(res.Errors)),
	)

	if !s.wait(r.Context()) {
		return
	}
	if s.config.Reject {
		fail(w, http.StatusOK, "Grammar check failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Grammar check completed",
		"data":    res,
	})
}

// readUpload parses a multipart upload with a language field and one file.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) (language.Language, []byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, http.StatusRequestEntityTooLarge, "File is too large")
			return "", nil, "", false
		}
		fail(w, http.StatusBadRequest, "Error parsing form")
		return "", nil, "", false
	}

	lang, err := language.Parse(r.FormValue("language"))
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return "", nil, "", false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		fail(w, http.StatusBadRequest, "Missing "+field+" file")
		return "", nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Error reading "+field+" file")
		return "", nil, "", false
	}
	return lang, data, header.Filename, true
}

// wait simulates processing time. It reports false if the client went away.
func (s *Server) wait(ctx context.Context) bool {
	if s.config.Latency <= 0 {
		return true
	}
	timer := time.NewTimer(s.config.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
