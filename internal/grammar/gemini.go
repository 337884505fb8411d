package grammar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/scribblesense/scribblesense/internal/remote"
)

const (
	geminiService      = "grammar"
	defaultGeminiModel = "gemini-2.5-flash"
)

const systemPrompt = `You are a grammar tutor for English, Hindi and Punjabi learners.
Reply with a single JSON object and nothing else, using this shape:
{"correctedText": string,
 "errors": [{"type": "grammar"|"spelling"|"style"|"punctuation"|"capitalization", "message": string, "position": number}],
 "suggestions": [string]}
"position" is the character offset of the problem in the original text.
Keep the text in its original language and script.`

// GeminiConfig configures the Gemini grammar backend.
type GeminiConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Observer remote.Observer
}

// GeminiChecker asks a Gemini model for corrections.
type GeminiChecker struct {
	client   *genai.Client
	model    string
	observer remote.Observer
	logger   *slog.Logger
}

type geminiReply struct {
	CorrectedText string   `json:"correctedText"`
	Errors        []Issue  `json:"errors"`
	Suggestions   []string `json:"suggestions"`
}

// NewGeminiChecker creates a Gemini-backed checker.
func NewGeminiChecker(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiChecker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiChecker{
		client:   client,
		model:    model,
		observer: cfg.Observer,
		logger:   logger,
	}, nil
}

// Check sends one GenerateContent call and decodes the JSON reply.
func (g *GeminiChecker) Check(ctx context.Context, req Request) (*Result, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Language: %s\nCheck type: %s\nText:\n%s", req.Language.Label(), req.CheckType, req.Text)

	g.logger.Debug("Sending gemini grammar check",
		slog.String("model", g.model),
		slog.String("language", req.Language.String()))

	start := time.Now()
	result, err := g.generate(ctx, req, prompt)
	elapsed := time.Since(start)
	if g.observer != nil {
		g.observer.ObserveRequest(geminiService, elapsed, err)
	}
	if err != nil {
		return nil, err
	}

	result.ProcessingTime = float64(elapsed.Microseconds()) / 1000
	return result, nil
}

func (g *GeminiChecker) generate(ctx context.Context, req Request, prompt string) (*Result, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &remote.Error{Service: geminiService, Kind: remote.KindStatus, StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
		}
		return nil, &remote.Error{Service: geminiService, Kind: remote.KindNetwork, Err: err}
	}

	text := strings.TrimSpace(resp.Text())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")

	var reply geminiReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &reply); err != nil {
		return nil, &remote.Error{Service: geminiService, Kind: remote.KindDecode, Err: fmt.Errorf("failed to parse model reply: %w", err)}
	}
	if reply.CorrectedText == "" {
		reply.CorrectedText = req.Text
	}
	if reply.Errors == nil {
		reply.Errors = []Issue{}
	}
	if reply.Suggestions == nil {
		reply.Suggestions = []string{}
	}

	return &Result{
		OriginalText:  req.Text,
		CorrectedText: reply.CorrectedText,
		Errors:        reply.Errors,
		Suggestions:   reply.Suggestions,
		Statistics:    computeStatistics(req.Text, len(reply.Errors)),
	}, nil
}
