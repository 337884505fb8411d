package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/scribblesense/scribblesense/internal/auth"
	"github.com/scribblesense/scribblesense/internal/canvas"
	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/language"
)

type startRequest struct {
	Kind     capture.Kind `json:"kind"`
	Language string       `json:"language"`
}

type strokesRequest struct {
	Strokes []canvas.Stroke `json:"strokes"`
}

// currentUser returns the user the auth middleware stored on the request.
func currentUser(r *http.Request) auth.User {
	if u, ok := auth.FromContext(r.Context()); ok {
		return u
	}
	return auth.MockUser
}

// lookupSession returns the session named in the path if it belongs to the
// caller. Other users' sessions are reported as missing.
func (h *HTTPServer) lookupSession(w http.ResponseWriter, r *http.Request) (capture.SessionInfo, bool) {
	id := mux.Vars(r)["id"]
	info, err := h.sessions.Get(id)
	if err != nil || info.Owner != currentUser(r).ID {
		fail(w, http.StatusNotFound, "Session not found")
		return capture.SessionInfo{}, false
	}
	return info, true
}

func (h *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	lang, err := language.Parse(req.Language)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Kind.Valid() {
		fail(w, http.StatusBadRequest, "kind must be audio or canvas")
		return
	}

	user := currentUser(r)
	info, err := h.sessions.Start(r.Context(), user.ID, req.Kind, lang)
	if err != nil {
		// A denied source leaves the new session idle; it is still returned
		// so the client can record again.
		h.sessionError(w, r, info, err)
		return
	}

	writeSession(w, http.StatusCreated, info)
}

func (h *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List(currentUser(r).ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"total":    len(sessions),
		"sessions": sessions,
	})
}

func (h *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	writeSession(w, http.StatusOK, info)
}

func (h *HTTPServer) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	h.sessions.Remove(info.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	info, err := h.sessions.Record(r.Context(), info.ID)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}
	writeSession(w, http.StatusOK, info)
}

func (h *HTTPServer) handleAppendAudio(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	chunk, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Append(info.ID, chunk); err != nil {
		info, _ = h.sessions.Get(info.ID)
		h.sessionError(w, r, info, err)
		return
	}

	info, err := h.sessions.Get(info.ID)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}
	writeSession(w, http.StatusOK, info)
}

func (h *HTTPServer) handleDraw(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var req strokesRequest
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	info, err := h.sessions.Draw(info.ID, req.Strokes...)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}
	writeSession(w, http.StatusOK, info)
}

func (h *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	info, err := h.sessions.Clear(info.ID)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}
	writeSession(w, http.StatusOK, info)
}

// handleStop ends a recording. A non-empty body is the final audio chunk,
// which lets a browser upload the whole recording at once.
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	final, ok := h.readBody(w, r)
	if !ok {
		return
	}

	info, err := h.sessions.Stop(info.ID, final)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}
	writeSession(w, http.StatusOK, info)
}

// handleSubmit blocks until the session is saved or in error. Both outcomes
// answer 200; success tells them apart.
func (h *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	info, err := h.sessions.Submit(r.Context(), info.ID)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": info.Status == capture.StatusSaved,
		"message": info.Error,
		"session": info,
	})
}

func (h *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	info, err := h.sessions.Reset(info.ID)
	if err != nil {
		h.sessionError(w, r, info, err)
		return
	}
	writeSession(w, http.StatusOK, info)
}

// readBody reads a raw upload bounded by the configured limit.
func (h *HTTPServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, http.StatusRequestEntityTooLarge, "File is too large")
			return nil, false
		}
		fail(w, http.StatusBadRequest, "Error reading request body")
		return nil, false
	}
	return data, true
}

func (h *HTTPServer) maxUploadBytes() int64 {
	if n := h.config.Capture.MaxUploadBytes; n > 0 {
		return n
	}
	return 10 << 20
}

// sessionError maps a capture error to a status code and a user message.
func (h *HTTPServer) sessionError(w http.ResponseWriter, r *http.Request, info capture.SessionInfo, err error) {
	status := sessionStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Capture session operation failed",
			slog.String("path", r.URL.Path),
			slog.String("session_id", info.ID),
			slog.String("error", err.Error()),
		)
	}

	body := map[string]interface{}{
		"success": false,
		"message": sessionMessage(err),
	}
	if info.ID != "" {
		body["session"] = info
	}
	writeJSON(w, status, body)
}

func sessionStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrBlobTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, capture.ErrAbandoned):
		return http.StatusGone
	case errors.Is(err, capture.ErrInvalidTransition),
		errors.Is(err, capture.ErrBusy),
		errors.Is(err, capture.ErrSourceBusy),
		errors.Is(err, capture.ErrEmptyBlob),
		errors.Is(err, capture.ErrWrongKind):
		return http.StatusConflict
	case errors.Is(err, language.ErrUnsupported),
		errors.Is(err, canvas.ErrTooManyPoints):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func sessionMessage(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return capture.Message(err)
	case errors.Is(err, capture.ErrEmptyBlob):
		return "Nothing was captured yet."
	case errors.Is(err, capture.ErrBusy):
		return "Your submission is still being processed."
	default:
		return err.Error()
	}
}

func writeSession(w http.ResponseWriter, status int, info capture.SessionInfo) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"session": info,
	})
}
