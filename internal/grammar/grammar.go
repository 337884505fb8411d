// Package grammar checks user text for grammar, spelling and style problems.
//
// Three Checker implementations share one contract: HTTPChecker posts to a
// grammar endpoint, GeminiChecker asks a Gemini model and RuleChecker applies
// a small offline correction table. Blank text never reaches any of them.
package grammar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scribblesense/scribblesense/internal/language"
)

// ErrEmptyText is returned before any request when the text is blank.
var ErrEmptyText = errors.New("text is empty")

// ErrUnknownCheckType is returned for a checkType outside the fixed set.
var ErrUnknownCheckType = errors.New("unknown check type")

// CheckType narrows what a check looks for.
type CheckType string

const (
	CheckGrammar  CheckType = "grammar"
	CheckSpelling CheckType = "spelling"
	CheckStyle    CheckType = "style"
	CheckFull     CheckType = "full"
)

// Request is the body of a grammar check.
type Request struct {
	Text      string            `json:"text"`
	Language  language.Language `json:"language"`
	CheckType CheckType         `json:"checkType"`
}

// Issue is a single problem found in the text. Position is a rune offset
// into the original text.
type Issue struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Position int    `json:"position"`
}

// Statistics summarises the checked text.
type Statistics struct {
	WordCount      int     `json:"wordCount"`
	CharacterCount int     `json:"characterCount"`
	ErrorCount     int     `json:"errorCount"`
	Accuracy       float64 `json:"accuracy"`
}

// Result is the data payload of a successful check.
type Result struct {
	OriginalText   string     `json:"originalText"`
	CorrectedText  string     `json:"correctedText"`
	Errors         []Issue    `json:"errors"`
	Suggestions    []string   `json:"suggestions"`
	Statistics     Statistics `json:"statistics"`
	ProcessingTime float64    `json:"processingTime"` // milliseconds
}

// Checker runs a grammar check.
type Checker interface {
	Check(ctx context.Context, req Request) (*Result, error)
}

// Normalize validates req and fills defaults. Every Checker calls it first,
// so blank text is rejected without a request being issued.
func Normalize(req Request) (Request, error) {
	if strings.TrimSpace(req.Text) == "" {
		return req, ErrEmptyText
	}

	if req.Language == "" {
		req.Language = language.English
	}
	if !req.Language.Valid() {
		return req, fmt.Errorf("%w: %q", language.ErrUnsupported, req.Language)
	}

	switch req.CheckType {
	case "":
		req.CheckType = CheckFull
	case CheckGrammar, CheckSpelling, CheckStyle, CheckFull:
	default:
		return req, fmt.Errorf("%w: %q", ErrUnknownCheckType, req.CheckType)
	}

	req.Text = strings.TrimSpace(req.Text)
	return req, nil
}

// computeStatistics fills in the counts for text with n issues.
func computeStatistics(text string, n int) Statistics {
	words := len(strings.Fields(text))
	accuracy := 100.0
	if words > 0 {
		accuracy = float64(words-n) / float64(words) * 100
		if accuracy < 0 {
			accuracy = 0
		}
	}
	return Statistics{
		WordCount:      words,
		CharacterCount: len([]rune(text)),
		ErrorCount:     n,
		Accuracy:       accuracy,
	}
}
