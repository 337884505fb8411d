package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scribblesense/scribblesense/internal/config"
	"github.com/scribblesense/scribblesense/internal/grammar"
	"github.com/scribblesense/scribblesense/internal/ocr"
	"github.com/scribblesense/scribblesense/internal/remote"
	"github.com/scribblesense/scribblesense/internal/speech"
)

// services are the remote clients built from configuration.
type services struct {
	ocr     ocr.Extractor
	speech  speech.Transcriber
	grammar grammar.Checker
	clients []*remote.Client // the plain HTTP clients, for statistics
}

// buildServices creates the OCR, speech and grammar clients. observer may be nil.
func buildServices(ctx context.Context, cfg config.ServicesConfig, observer remote.Observer, logger *slog.Logger) (*services, error) {
	s := &services{}

	rc, err := newRemote("ocr", cfg.OCR, observer)
	if err != nil {
		return nil, err
	}
	s.ocr = ocr.NewClient(rc, logger)
	s.clients = append(s.clients, rc)

	switch cfg.Speech.Provider {
	case "openai":
		s.speech = speech.NewWhisperTranscriber(speech.WhisperConfig{
			APIKey:   cfg.Speech.APIKey,
			BaseURL:  cfg.Speech.Endpoint,
			Model:    cfg.Speech.Model,
			Observer: observer,
		}, logger)
	default:
		rc, err := newRemote("speech", cfg.Speech, observer)
		if err != nil {
			return nil, err
		}
		s.speech = speech.NewHTTPTranscriber(rc, logger)
		s.clients = append(s.clients, rc)
	}

	switch cfg.Grammar.Provider {
	case "gemini":
		checker, err := grammar.NewGeminiChecker(ctx, grammar.GeminiConfig{
			APIKey:   cfg.Grammar.APIKey,
			BaseURL:  cfg.Grammar.Endpoint,
			Model:    cfg.Grammar.Model,
			Observer: observer,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini checker: %w", err)
		}
		s.grammar = checker
	case "rules":
		s.grammar = grammar.NewRuleChecker()
	default:
		rc, err := newRemote("grammar", cfg.Grammar, observer)
		if err != nil {
			return nil, err
		}
		s.grammar = grammar.NewHTTPChecker(rc, logger)
		s.clients = append(s.clients, rc)
	}

	return s, nil
}

func newRemote(service string, sc config.ServiceConfig, observer remote.Observer) (*remote.Client, error) {
	rc, err := remote.NewClient(remote.Config{
		Service:       service,
		Endpoint:      sc.Endpoint,
		APIKey:        sc.APIKey,
		Timeout:       time.Duration(sc.Timeout) * time.Second,
		MaxConcurrent: sc.MaxConcurrent,
		Observer:      observer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", service, err)
	}
	return rc, nil
}

func (s *services) Close() {
	for _, c := range s.clients {
		c.Close()
	}
}
