package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/scribblesense/scribblesense/internal/audio"
	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/export"
	"github.com/scribblesense/scribblesense/internal/grammar"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/ocr"
	"github.com/scribblesense/scribblesense/internal/remote"
	"github.com/scribblesense/scribblesense/internal/speech"
	"github.com/scribblesense/scribblesense/internal/store"
)

type upload struct {
	lang     language.Language
	fileName string
	data     []byte
}

type exportRequest struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

// handleOCR uploads a page image to the OCR service.
func (h *HTTPServer) handleOCR(w http.ResponseWriter, r *http.Request) {
	if h.ocr == nil {
		fail(w, http.StatusServiceUnavailable, "OCR service is not configured")
		return
	}

	up, ok := h.readUpload(w, r, "image")
	if !ok {
		return
	}

	img, err := ocr.Validate(ocr.Image{Name: up.fileName, Data: up.data})
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.ocr.Extract(r.Context(), img, up.lang)
	h.recordActivity(r.Context(), store.KindUpload, up.lang, err == nil)
	if err != nil {
		h.remoteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Text extracted successfully",
		"data": map[string]interface{}{
			"extractedText": res.ExtractedText,
			"language":      up.lang,
			"fileName":      img.Name,
		},
	})
}

// handleTranscribe uploads a finished recording. WAV input longer than the
// recording limit is trimmed before it is sent.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.speech == nil {
		fail(w, http.StatusServiceUnavailable, "Speech service is not configured")
		return
	}

	up, ok := h.readUpload(w, r, "audio")
	if !ok {
		return
	}
	if len(up.data) == 0 {
		fail(w, http.StatusBadRequest, "Audio file is empty")
		return
	}

	data := up.data
	if audio.IsWAV(data) {
		limit := time.Duration(h.config.Capture.MaxRecording) * time.Second
		if limit <= 0 || limit > capture.MaxRecording {
			limit = capture.MaxRecording
		}
		if trimmed, cut, err := audio.Trim(data, limit); err == nil && cut {
			h.logger.Info("Trimmed uploaded recording",
				slog.String("file", up.fileName),
				slog.Duration("limit", limit),
			)
			data = trimmed
		}
	}

	res, err := h.speech.Transcribe(r.Context(), speech.Audio{
		Name:        up.fileName,
		ContentType: audio.ContentType(data),
		Data:        data,
	}, up.lang)
	h.recordActivity(r.Context(), string(capture.KindAudio), up.lang, err == nil)
	if err != nil {
		h.remoteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"transcription": res.Transcription,
		"message":       "Transcription completed",
	})
}

// handleGrammar runs a grammar check. The reply field carries the chat
// assistant's message rendered to HTML.
func (h *HTTPServer) handleGrammar(w http.ResponseWriter, r *http.Request) {
	if h.grammar == nil {
		fail(w, http.StatusServiceUnavailable, "Grammar service is not configured")
		return
	}

	var req grammar.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// Validation errors are answered without touching the service.
	normalized, err := grammar.Normalize(req)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.grammar.Check(r.Context(), normalized)
	h.recordActivity(r.Context(), store.KindGrammar, normalized.Language, err == nil)
	if err != nil {
		h.remoteError(w, r, err)
		return
	}

	reply, err := grammar.RenderHTML(grammar.ChatReply(res))
	if err != nil {
		h.logger.Warn("Failed to render grammar reply", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Grammar check completed",
		"data":    res,
		"reply":   reply,
	})
}

// handleExport returns text as a DOCX attachment. The text comes from the
// body or from the result of one of the caller's saved sessions.
func (h *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes())).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Text == "" && req.SessionID != "" {
		info, err := h.sessions.Get(req.SessionID)
		if err != nil || info.Owner != currentUser(r).ID {
			fail(w, http.StatusNotFound, "Session not found")
			return
		}
		req.Text = info.Result
	}

	now := time.Now()
	var buf bytes.Buffer
	err := export.WriteDOCX(&buf, export.Document{Title: req.Title, Text: req.Text, Generated: now})
	if err != nil {
		if errors.Is(err, export.ErrEmptyText) {
			fail(w, http.StatusBadRequest, "No text available to export")
			return
		}
		h.logger.Error("Failed to build DOCX export", slog.String("error", err.Error()))
		fail(w, http.StatusInternalServerError, "Failed to export document")
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(now)))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, &buf); err != nil {
		h.logger.Debug("Failed to write DOCX export", slog.String("error", err.Error()))
	}
}

// readUpload parses a multipart upload with a language field and one file.
func (h *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request, field string) (upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes()+1<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, http.StatusRequestEntityTooLarge, "File is too large")
			return upload{}, false
		}
		fail(w, http.StatusBadRequest, "Error parsing form")
		return upload{}, false
	}

	lang, err := language.Parse(r.FormValue("language"))
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return upload{}, false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		fail(w, http.StatusBadRequest, "Missing "+field+" file")
		return upload{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Error reading "+field+" file")
		return upload{}, false
	}
	return upload{lang: lang, fileName: header.Filename, data: data}, true
}

// remoteError reports a failed service call with the user-facing message.
func (h *HTTPServer) remoteError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ocr.ErrEmptyImage),
		errors.Is(err, ocr.ErrImageTooLarge),
		errors.Is(err, ocr.ErrUnsupportedType),
		errors.Is(err, speech.ErrEmptyAudio),
		errors.Is(err, grammar.ErrEmptyText),
		errors.Is(err, grammar.ErrUnknownCheckType),
		errors.Is(err, language.ErrUnsupported):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// The client went away.
		return
	}

	h.logger.Warn("Service request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	fail(w, status, remote.Message(err))
}

// recordActivity adds a finished direct upload to the activity log.
func (h *HTTPServer) recordActivity(ctx context.Context, kind string, lang language.Language, success bool) {
	if h.activity == nil {
		return
	}
	// The request context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.activity.Record(ctx, store.Activity{Kind: kind, Language: lang, Success: success, At: time.Now()}); err != nil {
		h.logger.Warn("Failed to record activity",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
