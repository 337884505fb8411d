package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/scribblesense/scribblesense/internal/audio"
)

// Blob is the finished output of a session.
type Blob struct {
	ContentType string
	Data        []byte
}

// Empty reports whether nothing was captured.
func (b Blob) Empty() bool {
	return len(b.Data) == 0
}

// ErrNotWritable is returned by sources that record on their own.
var ErrNotWritable = errors.New("source does not accept pushed audio")

// AudioSource is the exclusive resource behind an audio session.
type AudioSource interface {
	// Open acquires the source. A denied device yields a *PermissionError.
	Open(ctx context.Context) error
	// Write appends a chunk of encoded audio.
	Write(chunk []byte) error
	// Close releases the source and returns everything recorded.
	Close() (Blob, error)
}

// SourceFactory creates the source for a new audio session.
type SourceFactory func() AudioSource

// PushSource collects audio chunks uploaded by a browser.
type PushSource struct {
	maxBytes int64

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewPushSource creates a source that accepts up to maxBytes of audio.
// maxBytes <= 0 means no limit.
func NewPushSource(maxBytes int64) *PushSource {
	return &PushSource{maxBytes: maxBytes}
}

// PushSources returns a factory of push sources sharing one size limit.
func PushSources(maxBytes int64) SourceFactory {
	return func() AudioSource { return NewPushSource(maxBytes) }
}

func (p *PushSource) Open(ctx context.Context) error {
	return ctx.Err()
}

func (p *PushSource) Write(chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("source is closed")
	}
	if p.maxBytes > 0 && int64(p.buf.Len()+len(chunk)) > p.maxBytes {
		return ErrBlobTooLarge
	}
	p.buf.Write(chunk)
	return nil
}

func (p *PushSource) Close() (Blob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	data := make([]byte, p.buf.Len())
	copy(data, p.buf.Bytes())
	p.buf.Reset()

	return Blob{ContentType: audio.ContentType(data), Data: data}, nil
}
