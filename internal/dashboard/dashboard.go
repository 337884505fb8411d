// Package dashboard assembles the progress overview: seeded practice history
// merged with live submissions from the activity store.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/store"
)

// MaxFeedback bounds the recent feedback list.
const MaxFeedback = 5

type AccuracyPoint struct {
	Session  int `json:"session"`
	Accuracy int `json:"accuracy"`
}

type Score struct {
	Category string `json:"category"`
	Score    int    `json:"score"`
}

type LanguageShare struct {
	Language string `json:"language"`
	Usage    int    `json:"usage"` // percent
	Color    string `json:"color"`
}

type Feedback struct {
	ID        int    `json:"id"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Language  string `json:"language"`
}

type Stats struct {
	TotalSubmissions int `json:"totalSubmissions"`
	AverageAccuracy  int `json:"averageAccuracy"`
	StreakDays       int `json:"streakDays"`
	CompletedLessons int `json:"completedLessons"`
}

// Summary is the payload of the dashboard page.
type Summary struct {
	GrammarAccuracy      []AccuracyPoint `json:"grammarAccuracy"`
	SpeakingScores       []Score         `json:"speakingScores"`
	LanguageDistribution []LanguageShare `json:"languageDistribution"`
	RecentFeedback       []Feedback      `json:"recentFeedback"`
	Stats                Stats           `json:"stats"`
}

// ActivitySource is the part of the activity store the dashboard reads.
type ActivitySource interface {
	Summarize(ctx context.Context, since time.Time) (store.Summary, error)
	Recent(ctx context.Context, limit int) ([]store.Activity, error)
}

var colors = map[language.Language]string{
	language.English: "#3B82F6",
	language.Hindi:   "#10B981",
	language.Punjabi: "#F59E0B",
}

// seedUsage is the historical usage per language, in percent.
var seedUsage = map[language.Language]int{
	language.English: 45,
	language.Hindi:   35,
	language.Punjabi: 20,
}

// Seed returns the practice history every account starts with.
func Seed() Summary {
	return Summary{
		GrammarAccuracy: []AccuracyPoint{
			{1, 65}, {2, 72}, {3, 68}, {4, 78}, {5, 82}, {6, 85}, {7, 88},
		},
		SpeakingScores: []Score{
			{"Pronunciation", 85},
			{"Fluency", 78},
			{"Grammar", 82},
			{"Vocabulary", 90},
		},
		LanguageDistribution: distribution(seedUsage),
		RecentFeedback: []Feedback{
			{ID: 1, Message: "Good sentence structure in your latest essay.", Type: "grammar", Timestamp: "2 hours ago", Language: "English"},
			{ID: 2, Message: "Incorrect verb tense used in paragraph 2.", Type: "grammar", Timestamp: "5 hours ago", Language: "Hindi"},
			{ID: 3, Message: "Great pronunciation on word 'important'.", Type: "speaking", Timestamp: "1 day ago", Language: "English"},
		},
		Stats: Stats{
			TotalSubmissions: 47,
			AverageAccuracy:  84,
			StreakDays:       12,
			CompletedLessons: 23,
		},
	}
}

// Build merges the seed with live activity. A nil source yields the seed.
func Build(ctx context.Context, src ActivitySource, now time.Time) (Summary, error) {
	summary := Seed()
	if src == nil {
		return summary, nil
	}

	live, err := src.Summarize(ctx, time.Time{})
	if err != nil {
		return summary, fmt.Errorf("failed to summarize activity: %w", err)
	}
	recent, err := src.Recent(ctx, MaxFeedback)
	if err != nil {
		return summary, fmt.Errorf("failed to read recent activity: %w", err)
	}

	summary.Stats.TotalSubmissions += live.Total

	if live.Total > 0 {
		weights := make(map[language.Language]int, len(seedUsage))
		for l, usage := range seedUsage {
			weights[l] = usage + live.ByLanguage[l]
		}
		summary.LanguageDistribution = distribution(weights)
	}

	feedback := make([]Feedback, 0, MaxFeedback)
	for _, a := range recent {
		feedback = append(feedback, feedbackFor(a, now))
	}
	for _, f := range summary.RecentFeedback {
		if len(feedback) == MaxFeedback {
			break
		}
		feedback = append(feedback, f)
	}
	for i := range feedback {
		feedback[i].ID = i + 1
	}
	summary.RecentFeedback = feedback

	return summary, nil
}

func feedbackFor(a store.Activity, now time.Time) Feedback {
	f := Feedback{
		Timestamp: Ago(now.Sub(a.At)),
		Language:  a.Language.Label(),
	}
	switch a.Kind {
	case "audio":
		f.Type = "speaking"
		f.Message = "Speech recording transcribed."
	case "canvas", store.KindUpload:
		f.Type = "handwriting"
		f.Message = "Handwriting converted to text."
	case store.KindGrammar:
		f.Type = "grammar"
		f.Message = "Grammar check completed."
	default:
		f.Type = a.Kind
		f.Message = "Submission processed."
	}
	if !a.Success {
		f.Message = "Submission failed. Try again."
	}
	return f
}

// distribution converts weights to whole percentages that sum to 100, using
// the largest remainder for rounding.
func distribution(weights map[language.Language]int) []LanguageShare {
	total := 0
	for _, w := range weights {
		total += w
	}

	langs := language.All()
	shares := make([]LanguageShare, len(langs))
	if total == 0 {
		for i, l := range langs {
			shares[i] = LanguageShare{Language: l.Label(), Color: colors[l]}
		}
		return shares
	}

	type rem struct {
		idx  int
		frac int
	}
	rems := make([]rem, len(langs))
	assigned := 0
	for i, l := range langs {
		scaled := weights[l] * 100
		shares[i] = LanguageShare{Language: l.Label(), Usage: scaled / total, Color: colors[l]}
		rems[i] = rem{i, scaled % total}
		assigned += shares[i].Usage
	}

	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for i := 0; assigned < 100; i++ {
		shares[rems[i%len(rems)].idx].Usage++
		assigned++
	}
	return shares
}

// Ago renders an elapsed duration the way the dashboard shows timestamps.
func Ago(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	var epoch time.Time
	return humanize.RelTime(epoch, epoch.Add(d), "ago", "from now")
}
