package speech

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/remote"
)

const whisperService = "speech"

// WhisperConfig configures the OpenAI transcription backend.
type WhisperConfig struct {
	APIKey   string
	BaseURL  string // empty uses the public API
	Model    string
	Observer remote.Observer
}

// WhisperTranscriber transcribes audio with the OpenAI audio API.
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	observer remote.Observer
	logger   *slog.Logger
}

// NewWhisperTranscriber creates a transcriber backed by go-openai.
func NewWhisperTranscriber(cfg WhisperConfig, logger *slog.Logger) *WhisperTranscriber {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client:   openai.NewClientWithConfig(oc),
		model:    model,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// Transcribe issues a single transcription request. Errors are mapped onto
// the remote failure taxonomy.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio Audio, lang language.Language) (*Result, error) {
	audio, err := checkInput(audio, lang)
	if err != nil {
		return nil, err
	}

	w.logger.Debug("Sending whisper request",
		slog.String("model", w.model),
		slog.Int("size", len(audio.Data)),
		slog.String("language", lang.Code()))

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audio.Name,
		Reader:   bytes.NewReader(audio.Data),
		Language: lang.Code(),
	})
	err = classify(err)
	if w.observer != nil {
		w.observer.ObserveRequest(whisperService, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	return &Result{Transcription: resp.Text}, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &remote.Error{
			Service:    whisperService,
			Kind:       remote.KindStatus,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &remote.Error{
			Service:    whisperService,
			Kind:       remote.KindStatus,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Err:        err,
		}
	}

	return &remote.Error{Service: whisperService, Kind: remote.KindNetwork, Err: err}
}
