// Package catalog holds the learning resources shown on the resources page
// and filters them by search text, language and type.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/scribblesense/scribblesense/internal/language"
)

//go:embed resources.yaml
var seed []byte

// Type is the media type of a resource.
type Type string

const (
	TypeVideo   Type = "video"
	TypeArticle Type = "article"
)

// Difficulty is the level a resource targets.
type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// Resource is one catalog entry.
type Resource struct {
	ID          string            `yaml:"id" json:"id"`
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description" json:"description"`
	Thumbnail   string            `yaml:"thumbnail" json:"thumbnail"`
	Duration    string            `yaml:"duration" json:"duration"`
	Views       string            `yaml:"views" json:"views"`
	UploadDate  string            `yaml:"uploadDate" json:"uploadDate"`
	Category    string            `yaml:"category" json:"category"`
	Language    language.Language `yaml:"language" json:"language"`
	Type        Type              `yaml:"type" json:"type"`
	Tags        []string          `yaml:"tags" json:"tags"`
	Difficulty  Difficulty        `yaml:"difficulty" json:"difficulty"`
}

type document struct {
	Resources []Resource `yaml:"resources"`
}

// Catalog is a concurrency-safe, replaceable list of resources.
type Catalog struct {
	mu        sync.RWMutex
	resources []Resource
}

// Default returns the built-in catalog.
func Default() *Catalog {
	resources, err := Parse(seed)
	if err != nil {
		panic(fmt.Sprintf("catalog: invalid built-in resources: %v", err))
	}
	return New(resources)
}

// New creates a catalog holding resources in the given order.
func New(resources []Resource) *Catalog {
	c := &Catalog{}
	c.Replace(resources)
	return c
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	resources, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(resources), nil
}

// ReadFile parses the catalog file at path.
func ReadFile(path string) ([]Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	resources, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resources, nil
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) ([]Resource, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(doc.Resources))
	for i := range doc.Resources {
		r := &doc.Resources[i]
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("resource %d: %w", i, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("resource %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
	}
	return doc.Resources, nil
}

// Validate checks a single resource.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !r.Language.Valid() {
		return fmt.Errorf("%w: %q", language.ErrUnsupported, r.Language)
	}
	if r.Type != TypeVideo && r.Type != TypeArticle {
		return fmt.Errorf("invalid type %q", r.Type)
	}
	switch r.Difficulty {
	case Beginner, Intermediate, Advanced, "":
	default:
		return fmt.Errorf("invalid difficulty %q", r.Difficulty)
	}
	return nil
}

// Replace swaps the catalog contents.
func (c *Catalog) Replace(resources []Resource) {
	cp := make([]Resource, len(resources))
	copy(cp, resources)

	c.mu.Lock()
	c.resources = cp
	c.mu.Unlock()
}

// All returns every resource in catalog order.
func (c *Catalog) All() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Resource, len(c.resources))
	copy(out, c.resources)
	return out
}

// Len returns the number of resources.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resources)
}

// Filter returns the resources matching f, in catalog order.
func (c *Catalog) Filter(f Filter) []Resource {
	m := f.matcher()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Resource, 0, len(c.resources))
	for _, r := range c.resources {
		if m.match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Filter selects resources. Empty fields and "all" match everything.
type Filter struct {
	Search   string
	Language string
	Type     string
}

// Normalize validates f and rewrites its language to the canonical name.
func (f Filter) Normalize() (Filter, error) {
	f.Search = strings.TrimSpace(f.Search)

	if isWildcard(f.Language) {
		f.Language = ""
	} else {
		l, err := language.Parse(f.Language)
		if err != nil {
			return f, err
		}
		f.Language = l.String()
	}

	if isWildcard(f.Type) {
		f.Type = ""
	} else {
		t := Type(strings.ToLower(strings.TrimSpace(f.Type)))
		if t != TypeVideo && t != TypeArticle {
			return f, fmt.Errorf("invalid resource type %q", f.Type)
		}
		f.Type = string(t)
	}
	return f, nil
}

func isWildcard(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "all")
}

type matcher struct {
	fold     cases.Caser
	needle   string
	language string
	typ      string
}

// matcher must not be shared between goroutines: a Caser holds state.
func (f Filter) matcher() *matcher {
	m := &matcher{fold: cases.Fold()}
	if s := strings.TrimSpace(f.Search); s != "" {
		m.needle = m.fold.String(s)
	}
	if !isWildcard(f.Language) {
		m.language = strings.ToLower(strings.TrimSpace(f.Language))
	}
	if !isWildcard(f.Type) {
		m.typ = strings.ToLower(strings.TrimSpace(f.Type))
	}
	return m
}

func (m *matcher) match(r Resource) bool {
	return m.matchLanguage(r) && m.matchType(r) && m.matchSearch(r)
}

func (m *matcher) matchLanguage(r Resource) bool {
	return m.language == "" || string(r.Language) == m.language
}

func (m *matcher) matchType(r Resource) bool {
	return m.typ == "" || string(r.Type) == m.typ
}

func (m *matcher) matchSearch(r Resource) bool {
	if m.needle == "" {
		return true
	}
	if m.contains(r.Title) || m.contains(r.Description) {
		return true
	}
	for _, tag := range r.Tags {
		if m.contains(tag) {
			return true
		}
	}
	return false
}

func (m *matcher) contains(s string) bool {
	return strings.Contains(m.fold.String(s), m.needle)
}

// GroupByLanguage buckets resources per language, keeping their order.
func GroupByLanguage(resources []Resource) map[language.Language][]Resource {
	groups := make(map[language.Language][]Resource)
	for _, r := range resources {
		groups[r.Language] = append(groups[r.Language], r)
	}
	return groups
}
