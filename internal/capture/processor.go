package capture

import (
	"context"
	"fmt"

	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/ocr"
	"github.com/scribblesense/scribblesense/internal/speech"
)

// Job is one submit handed to a Processor. The blob belongs to the processor
// for the duration of the call.
type Job struct {
	SessionID string
	Kind      Kind
	Language  language.Language
	Blob      Blob
}

// Processor turns a captured blob into text with exactly one remote call.
type Processor interface {
	Process(ctx context.Context, job Job) (string, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job Job) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, job Job) (string, error) {
	return f(ctx, job)
}

// ServiceProcessor routes audio to speech transcription and drawings to OCR.
type ServiceProcessor struct {
	Speech speech.Transcriber
	OCR    ocr.Extractor
}

func (p *ServiceProcessor) Process(ctx context.Context, job Job) (string, error) {
	switch job.Kind {
	case KindAudio:
		if p.Speech == nil {
			return "", fmt.Errorf("no speech service configured")
		}
		res, err := p.Speech.Transcribe(ctx, speech.Audio{ContentType: job.Blob.ContentType, Data: job.Blob.Data}, job.Language)
		if err != nil {
			return "", err
		}
		return res.Transcription, nil

	case KindCanvas:
		if p.OCR == nil {
			return "", fmt.Errorf("no OCR service configured")
		}
		res, err := p.OCR.Extract(ctx, ocr.Image{Name: "handwriting.png", ContentType: job.Blob.ContentType, Data: job.Blob.Data}, job.Language)
		if err != nil {
			return "", err
		}
		return res.ExtractedText, nil

	default:
		return "", fmt.Errorf("unknown session kind %q", job.Kind)
	}
}
