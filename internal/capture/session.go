package capture

import (
	"context"
	"sync"
	"time"

	"github.com/scribblesense/scribblesense/internal/canvas"
	"github.com/scribblesense/scribblesense/internal/language"
)

// session is the mutable state behind a SessionInfo.
type session struct {
	id        string
	owner     string
	kind      Kind
	lang      language.Language
	createdAt time.Time

	mu           sync.Mutex
	status       Status
	elapsed      int
	source       AudioSource
	pad          *canvas.Pad
	blob         Blob
	result       string
	errMsg       string
	lastActivity time.Time
	updatedAt    time.Time
	removed      bool
	stopping     bool

	stopTick      context.CancelFunc
	cancelRequest context.CancelFunc

	// notifyMu keeps observer callbacks in transition order.
	notifyMu sync.Mutex
}

// SessionInfo is an immutable snapshot of a capture session.
type SessionInfo struct {
	ID             string            `json:"id"`
	Owner          string            `json:"owner"`
	Kind           Kind              `json:"kind"`
	Language       language.Language `json:"language"`
	Status         Status            `json:"status"`
	ElapsedSeconds int               `json:"elapsedSeconds"`
	MaxSeconds     int               `json:"maxSeconds,omitempty"`
	HasBlob        bool              `json:"hasBlob"`
	BlobBytes      int               `json:"blobBytes"`
	ContentType    string            `json:"contentType,omitempty"`
	Strokes        int               `json:"strokes,omitempty"`
	Result         string            `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// CanSubmit reports whether a submit would be accepted.
func (i SessionInfo) CanSubmit() bool {
	return i.HasBlob && i.Status.CanTransition(StatusProcessing)
}

func (s *session) snapshotLocked(maxSeconds int) SessionInfo {
	info := SessionInfo{
		ID:             s.id,
		Owner:          s.owner,
		Kind:           s.kind,
		Language:       s.lang,
		Status:         s.status,
		ElapsedSeconds: s.elapsed,
		HasBlob:        !s.blob.Empty(),
		BlobBytes:      len(s.blob.Data),
		ContentType:    s.blob.ContentType,
		Result:         s.result,
		Error:          s.errMsg,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
	if s.kind == KindAudio {
		info.MaxSeconds = maxSeconds
	}
	if s.pad != nil {
		info.Strokes = s.pad.StrokeCount()
	}
	return info
}

// touch records user activity.
func (s *session) touch() {
	now := time.Now()
	s.lastActivity = now
	s.updatedAt = now
}
