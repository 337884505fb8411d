package grammar

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/scribblesense/scribblesense/internal/language"
)

type correction struct {
	pattern *regexp.Regexp
	to      string
	kind    string
}

// corrections is applied in order.
var corrections = []correction{
	{regexp.MustCompile(`(?i)\bi am going\b`), "I am going", "capitalization"},
	{regexp.MustCompile(`(?i)\btommorow\b`), "tomorrow", "spelling"},
	{regexp.MustCompile(`(?i)\brecieve\b`), "receive", "spelling"},
	{regexp.MustCompile(`(?i)\bits\b`), "it's", "grammar"},
	{regexp.MustCompile(`(?i)\bthere house\b`), "their house", "grammar"},
	{regexp.MustCompile(`(?i)\balot\b`), "a lot", "spelling"},
}

// kinds reported per check type.
var checkKinds = map[CheckType]map[string]bool{
	CheckSpelling: {"spelling": true},
	CheckGrammar:  {"grammar": true, "capitalization": true, "punctuation": true},
	CheckStyle:    {"capitalization": true, "punctuation": true},
	CheckFull:     {"spelling": true, "grammar": true, "capitalization": true, "punctuation": true},
}

// RuleChecker corrects a handful of common mistakes without any remote call.
type RuleChecker struct{}

// NewRuleChecker returns the offline checker.
func NewRuleChecker() *RuleChecker {
	return &RuleChecker{}
}

// Check applies the correction table, capitalises the first letter and
// terminates the sentence.
func (RuleChecker) Check(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kinds := checkKinds[req.CheckType]
	original := req.Text
	corrected := original
	issues := []Issue{}
	suggestions := []string{}

	for _, c := range corrections {
		if !kinds[c.kind] {
			continue
		}

		seen := false
		for _, loc := range c.pattern.FindAllStringIndex(original, -1) {
			found := original[loc[0]:loc[1]]
			if found == c.to {
				continue
			}
			issues = append(issues, Issue{
				Type:     c.kind,
				Message:  fmt.Sprintf("%q should be %q", found, c.to),
				Position: utf8.RuneCountInString(original[:loc[0]]),
			})
			if !seen {
				suggestions = append(suggestions, fmt.Sprintf("Use %q instead of %q.", c.to, strings.ToLower(found)))
				seen = true
			}
		}

		corrected = c.pattern.ReplaceAllStringFunc(corrected, func(found string) string {
			return matchCase(found, c.to)
		})
	}

	if kinds["capitalization"] {
		first, size := utf8.DecodeRuneInString(corrected)
		if unicode.IsLower(first) {
			corrected = string(unicode.ToUpper(first)) + corrected[size:]
			issues = append(issues, Issue{Type: "capitalization", Message: "Sentences start with a capital letter", Position: 0})
			suggestions = append(suggestions, "Start the sentence with a capital letter.")
		}
	}

	if kinds["punctuation"] && !terminated(corrected) {
		corrected += terminator(req.Language)
		issues = append(issues, Issue{
			Type:     "punctuation",
			Message:  "Sentence is missing its closing punctuation",
			Position: utf8.RuneCountInString(original),
		})
		suggestions = append(suggestions, "End the sentence with a punctuation mark.")
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Position < issues[j].Position })

	return &Result{
		OriginalText:   original,
		CorrectedText:  corrected,
		Errors:         issues,
		Suggestions:    suggestions,
		Statistics:     computeStatistics(original, len(issues)),
		ProcessingTime: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// Correct returns only the corrected text of a full check.
func Correct(text string) string {
	res, err := RuleChecker{}.Check(context.Background(), Request{Text: text, CheckType: CheckFull})
	if err != nil {
		return text
	}
	return res.CorrectedText
}

// matchCase keeps a leading capital from the matched text.
func matchCase(found, to string) string {
	f, _ := utf8.DecodeRuneInString(found)
	if !unicode.IsUpper(f) {
		return to
	}
	t, size := utf8.DecodeRuneInString(to)
	return string(unicode.ToUpper(t)) + to[size:]
}

func terminated(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '!', '?', '।':
		return true
	}
	return false
}

func terminator(l language.Language) string {
	switch l {
	case language.Hindi, language.Punjabi:
		return "।"
	default:
		return "."
	}
}
