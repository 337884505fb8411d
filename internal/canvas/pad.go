// Package canvas implements the handwriting pad of a drawing session: a
// buffer of pen strokes that is rasterised to a PNG once, when the session
// stops.
package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"

	"golang.org/x/image/vector"
)

// DefaultLineWidth matches the on-screen pen.
const DefaultLineWidth = 2

// MaxPoints bounds the number of points a pad keeps.
const MaxPoints = 200000

var (
	// ErrEmpty is returned when exporting a pad with nothing drawn on it.
	ErrEmpty = errors.New("canvas is empty")
	// ErrTooManyPoints is returned once MaxPoints would be exceeded.
	ErrTooManyPoints = errors.New("canvas point limit reached")
)

var (
	ink   = color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}
	paper = color.White
)

// Point is a pen position in pad pixels.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Stroke is one pen-down to pen-up path.
type Stroke struct {
	Points []Point `json:"points"`
	Width  float32 `json:"width,omitempty"`
}

// Pad accumulates strokes for a single drawing session.
type Pad struct {
	width, height int

	mu      sync.Mutex
	strokes []Stroke
	points  int
}

// NewPad creates an empty pad of the given size.
func NewPad(width, height int) (*Pad, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	return &Pad{width: width, height: height}, nil
}

// Size returns the pad dimensions.
func (p *Pad) Size() (int, int) {
	return p.width, p.height
}

// Draw appends strokes. Points outside the pad are clamped to its edge.
func (p *Pad) Draw(strokes ...Stroke) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, s := range strokes {
		added += len(s.Points)
	}
	if p.points+added > MaxPoints {
		return ErrTooManyPoints
	}

	for _, s := range strokes {
		if len(s.Points) == 0 {
			continue
		}
		c := Stroke{Points: make([]Point, len(s.Points)), Width: s.Width}
		if c.Width <= 0 || math.IsNaN(float64(c.Width)) {
			c.Width = DefaultLineWidth
		}
		for i, pt := range s.Points {
			c.Points[i] = Point{X: clamp(pt.X, p.width), Y: clamp(pt.Y, p.height)}
		}
		p.strokes = append(p.strokes, c)
		p.points += len(c.Points)
	}
	return nil
}

// Clear removes every stroke.
func (p *Pad) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strokes = nil
	p.points = 0
}

// Empty reports whether nothing has been drawn.
func (p *Pad) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.strokes) == 0
}

// StrokeCount returns the number of strokes drawn so far.
func (p *Pad) StrokeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.strokes)
}

// Render rasterises the strokes as dark ink on white paper.
func (p *Pad) Render() *image.RGBA {
	p.mu.Lock()
	strokes := make([]Stroke, len(p.strokes))
	copy(strokes, p.strokes)
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(paper), image.Point{}, draw.Src)

	// Every disc and segment winds the same way, so overlaps saturate
	// instead of cancelling and a single pass draws the whole pad.
	z := vector.NewRasterizer(p.width, p.height)
	for _, s := range strokes {
		r := s.Width / 2
		for i, pt := range s.Points {
			// Round joins and caps.
			circle(z, pt, r)
			if i > 0 {
				segment(z, s.Points[i-1], pt, r)
			}
		}
	}
	z.Draw(img, img.Bounds(), image.NewUniform(ink), image.Point{})

	return img
}

// PNG renders the pad and encodes it. An empty pad is an error.
func (p *Pad) PNG() ([]byte, error) {
	if p.Empty() {
		return nil, ErrEmpty
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, p.Render()); err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v float32, limit int) float32 {
	if math.IsNaN(float64(v)) || v < 0 {
		return 0
	}
	if v > float32(limit) {
		return float32(limit)
	}
	return v
}

// segment fills the rectangle of half-width r around the line a-b.
func segment(z *vector.Rasterizer, a, b Point, r float32) {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*r, dx/length*r

	// Same orientation as circle.
	z.MoveTo(a.X-nx, a.Y-ny)
	z.LineTo(b.X-nx, b.Y-ny)
	z.LineTo(b.X+nx, b.Y+ny)
	z.LineTo(a.X+nx, a.Y+ny)
	z.ClosePath()
}

// circle approximates a disc with four cubic Béziers.
func circle(z *vector.Rasterizer, c Point, r float32) {
	const k = 0.5522847
	kr := k * r

	z.MoveTo(c.X+r, c.Y)
	z.CubeTo(c.X+r, c.Y+kr, c.X+kr, c.Y+r, c.X, c.Y+r)
	z.CubeTo(c.X-kr, c.Y+r, c.X-r, c.Y+kr, c.X-r, c.Y)
	z.CubeTo(c.X-r, c.Y-kr, c.X-kr, c.Y-r, c.X, c.Y-r)
	z.CubeTo(c.X+kr, c.Y-r, c.X+r, c.Y-kr, c.X+r, c.Y)
	z.ClosePath()
}
