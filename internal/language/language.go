// Package language defines the fixed set of languages ScribbleSense works in.
package language

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Language is one of the supported practice languages.
type Language string

const (
	English Language = "english"
	Hindi   Language = "hindi"
	Punjabi Language = "punjabi"
)

// ErrUnsupported is returned by Parse for anything outside the fixed set.
var ErrUnsupported = errors.New("unsupported language")

var (
	all  = []Language{English, Hindi, Punjabi}
	tags = []language.Tag{language.English, language.Hindi, language.MustParse("pa")}

	matcher = language.NewMatcher(tags)

	labels = map[Language]string{
		English: "English",
		Hindi:   "Hindi",
		Punjabi: "Punjabi",
	}
)

// All returns the supported languages in display order.
func All() []Language {
	out := make([]Language, len(all))
	copy(out, all)
	return out
}

// Parse accepts a language name ("hindi"), a BCP 47 tag ("hi", "pa-Guru-IN")
// or a display label ("Punjabi").
func Parse(s string) (Language, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupported)
	}
	for _, l := range all {
		if name == string(l) {
			return l, nil
		}
	}

	tag, err := language.Parse(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	_, idx, conf := matcher.Match(tag)
	if conf < language.High {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	return all[idx], nil
}

// Valid reports whether l is in the supported set.
func (l Language) Valid() bool {
	_, ok := labels[l]
	return ok
}

// Tag returns the BCP 47 tag for l.
func (l Language) Tag() language.Tag {
	for i, candidate := range all {
		if candidate == l {
			return tags[i]
		}
	}
	return language.Und
}

// Code returns the ISO 639-1 code remote services expect, e.g. "hi".
func (l Language) Code() string {
	base, _ := l.Tag().Base()
	return base.String()
}

// Label returns the English display name.
func (l Language) Label() string {
	return labels[l]
}

func (l Language) String() string {
	return string(l)
}
