// Package speech sends recorded audio to a transcription service.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/remote"
)

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("audio is empty")

// Audio is a finished recording.
type Audio struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result carries the transcription text.
type Result struct {
	Transcription string `json:"transcription"`
}

// Transcriber converts audio into text in the given language.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, lang language.Language) (*Result, error)
}

// HTTPTranscriber posts audio to a transcription endpoint as multipart form data.
type HTTPTranscriber struct {
	remote *remote.Client
	logger *slog.Logger
}

type response struct {
	Success       bool   `json:"success"`
	Transcription string `json:"transcription"`
	Message       string `json:"message"`
}

// NewHTTPTranscriber wraps a remote client configured for the speech endpoint.
func NewHTTPTranscriber(rc *remote.Client, logger *slog.Logger) *HTTPTranscriber {
	return &HTTPTranscriber{remote: rc, logger: logger}
}

func checkInput(audio Audio, lang language.Language) (Audio, error) {
	if len(audio.Data) == 0 {
		return audio, ErrEmptyAudio
	}
	if !lang.Valid() {
		return audio, fmt.Errorf("%w: %q", language.ErrUnsupported, lang)
	}
	if audio.ContentType == "" {
		audio.ContentType = "audio/wav"
	}
	if audio.Name == "" {
		audio.Name = "recording" + extension(audio.ContentType)
	}
	return audio, nil
}

func extension(contentType string) string {
	switch contentType {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	default:
		return ".wav"
	}
}

// Transcribe sends one request with fields audio and language.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio Audio, lang language.Language) (*Result, error) {
	audio, err := checkInput(audio, lang)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("Sending transcription request",
		slog.String("file", audio.Name),
		slog.Int("size", len(audio.Data)),
		slog.String("language", lang.String()))

	var resp response
	err = t.remote.PostMultipart(ctx,
		map[string]string{"language": lang.String()},
		[]remote.FilePart{{Field: "audio", FileName: audio.Name, ContentType: audio.ContentType, Data: audio.Data}},
		&resp)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, remote.Rejected(t.remote.Service(), resp.Message)
	}

	return &Result{Transcription: resp.Transcription}, nil
}
