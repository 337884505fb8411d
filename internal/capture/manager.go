package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribblesense/scribblesense/internal/audio"
	"github.com/scribblesense/scribblesense/internal/canvas"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/remote"
)

// MaxRecording is the fixed upper bound of an audio recording.
const MaxRecording = 30 * time.Second

const watchBuffer = 16

// Observer is told about every session change. prev equals info.Status for
// updates that are not transitions, such as elapsed ticks. Callbacks run in
// order per session and must not modify that session.
type Observer interface {
	SessionChanged(prev Status, info SessionInfo)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(prev Status, info SessionInfo)

func (f ObserverFunc) SessionChanged(prev Status, info SessionInfo) {
	f(prev, info)
}

// Config contains configuration for the capture manager
type Config struct {
	MaxRecording    time.Duration // audio auto-stop, at most MaxRecording
	TickInterval    time.Duration // one elapsed second
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
	CanvasWidth     int
	CanvasHeight    int
	Sources         SourceFactory
	Processor       Processor
	Observers       []Observer
}

// Manager owns every capture session and drives the state machine.
type Manager struct {
	config     Config
	maxSeconds int
	logger     *slog.Logger

	sessions map[string]*session
	mu       sync.RWMutex

	watchers map[string]map[chan SessionInfo]struct{}
	wmu      sync.Mutex

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cleanup chan struct{}
}

// NewManager creates a capture manager and starts its cleanup routine.
func NewManager(logger *slog.Logger, config Config) (*Manager, error) {
	if config.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if config.MaxRecording <= 0 {
		config.MaxRecording = MaxRecording
	}
	if config.MaxRecording > MaxRecording || config.MaxRecording < time.Second {
		return nil, fmt.Errorf("max recording must be between 1s and %v, got %v", MaxRecording, config.MaxRecording)
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if config.CanvasWidth <= 0 || config.CanvasHeight <= 0 {
		config.CanvasWidth, config.CanvasHeight = 400, 300
	}
	if config.Sources == nil {
		config.Sources = PushSources(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     config,
		maxSeconds: int(config.MaxRecording / time.Second),
		logger:     logger,
		sessions:   make(map[string]*session),
		watchers:   make(map[string]map[chan SessionInfo]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		cleanup:    make(chan struct{}),
	}

	go m.startCleanupRoutine()

	return m, nil
}

// Start creates a session for owner and begins recording. Any previous
// session of the owner is destroyed, abandoning its in-flight request. If the
// source cannot be acquired the new session stays idle and the error is
// returned. A Start that loses to a concurrent Start of the same owner
// returns ErrAbandoned.
func (m *Manager) Start(ctx context.Context, owner string, kind Kind, lang language.Language) (SessionInfo, error) {
	if !kind.Valid() {
		return SessionInfo{}, fmt.Errorf("unknown session kind %q", kind)
	}
	if !lang.Valid() {
		return SessionInfo{}, fmt.Errorf("%w: %q", language.ErrUnsupported, lang)
	}

	now := time.Now()
	s := &session{
		id:           uuid.NewString(),
		owner:        owner,
		kind:         kind,
		lang:         lang,
		createdAt:    now,
		status:       StatusIdle,
		lastActivity: now,
		updatedAt:    now,
	}

	// Replacing and inserting under one lock keeps a single session per owner.
	for _, old := range m.replaceOwnerSessions(owner, s) {
		m.logger.Info("Replacing previous capture session",
			slog.String("session_id", old.id),
			slog.String("owner", owner),
		)
		m.destroy(old)
	}

	m.logger.Info("Created capture session",
		slog.String("session_id", s.id),
		slog.String("owner", owner),
		slog.String("kind", string(kind)),
		slog.String("language", lang.String()),
	)

	s.mu.Lock()
	m.unlockAndNotify(s, "")

	return m.record(ctx, s)
}

// Record moves an idle session to recording by acquiring its source.
func (m *Manager) Record(ctx context.Context, id string) (SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return m.record(ctx, s)
}

func (m *Manager) record(ctx context.Context, s *session) (SessionInfo, error) {
	s.mu.Lock()
	if s.removed {
		// Replaced by a concurrent Start of the same owner.
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrAbandoned
	}
	if s.status != StatusIdle {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, transitionError(info.Status, StatusRecording)
	}

	switch s.kind {
	case KindAudio:
		src := m.config.Sources()
		if err := src.Open(ctx); err != nil {
			s.touch()
			var pe *PermissionError
			if errors.As(err, &pe) {
				s.errMsg = pe.Message()
			} else {
				s.errMsg = err.Error()
			}
			info := m.unlockAndNotify(s, StatusIdle)

			m.logger.Warn("Failed to acquire audio source",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()),
			)
			return info, err
		}
		s.source = src

	case KindCanvas:
		pad, err := canvas.NewPad(m.config.CanvasWidth, m.config.CanvasHeight)
		if err != nil {
			info := s.snapshotLocked(m.maxSeconds)
			s.mu.Unlock()
			return info, err
		}
		s.pad = pad
	}

	tickCtx, stopTick := context.WithCancel(m.ctx)
	s.stopTick = stopTick
	s.status = StatusRecording
	s.elapsed = 0
	s.blob = Blob{}
	s.result = ""
	s.errMsg = ""
	s.touch()

	m.wg.Add(1)
	go m.runTicker(tickCtx, s)

	return m.unlockAndNotify(s, StatusIdle), nil
}

// Append adds an uploaded audio chunk to a recording session.
func (m *Manager) Append(id string, chunk []byte) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != KindAudio {
		return ErrWrongKind
	}
	if s.status != StatusRecording {
		return fmt.Errorf("%w: cannot append audio while %s", ErrInvalidTransition, s.status)
	}
	s.lastActivity = time.Now()
	return s.source.Write(chunk)
}

// Draw adds strokes to a recording canvas session.
func (m *Manager) Draw(id string, strokes ...canvas.Stroke) (SessionInfo, error) {
	return m.withPad(id, func(pad *canvas.Pad) error {
		return pad.Draw(strokes...)
	})
}

// Clear wipes a recording canvas session.
func (m *Manager) Clear(id string) (SessionInfo, error) {
	return m.withPad(id, func(pad *canvas.Pad) error {
		pad.Clear()
		return nil
	})
}

func (m *Manager) withPad(id string, fn func(pad *canvas.Pad) error) (SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return SessionInfo{}, err
	}

	s.mu.Lock()
	if s.kind != KindCanvas {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrWrongKind
	}
	if s.status != StatusRecording || s.stopping {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, fmt.Errorf("%w: cannot draw while stopping or %s", ErrInvalidTransition, s.status)
	}
	if err := fn(s.pad); err != nil {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, err
	}
	s.touch()
	return m.unlockAndNotify(s, StatusRecording), nil
}

// Stop ends a recording, releasing its source and finalising the blob.
// final, if non-empty, is appended to an audio recording first.
func (m *Manager) Stop(id string, final []byte) (SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return SessionInfo{}, err
	}

	s.mu.Lock()
	if s.status != StatusRecording {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, transitionError(info.Status, StatusStopped)
	}
	if len(final) > 0 && s.kind != KindAudio {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrWrongKind
	}
	if s.stopping {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, fmt.Errorf("%w: session is already stopping", ErrInvalidTransition)
	}
	s.touch()
	if s.kind == KindCanvas {
		return m.stopCanvas(s)
	}
	return m.stopLocked(s, final), nil
}

// stopCanvas rasterises the pad without holding s.mu, so readers of the
// session are not blocked. Drawing is refused meanwhile. s.mu must be held;
// it is released before returning.
func (m *Manager) stopCanvas(s *session) (SessionInfo, error) {
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
	s.stopping = true
	pad := s.pad
	s.mu.Unlock()

	data, err := pad.PNG()

	s.mu.Lock()
	s.stopping = false
	if s.removed {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrAbandoned
	}

	switch {
	case errors.Is(err, canvas.ErrEmpty):
		s.blob = Blob{}
	case err != nil:
		s.errMsg = err.Error()
		s.blob = Blob{}
	default:
		s.blob = Blob{ContentType: "image/png", Data: data}
	}
	return m.finishStopLocked(s), nil
}

// stopLocked finalises an audio recording. s.mu must be held; it is
// released before returning.
func (m *Manager) stopLocked(s *session, final []byte) SessionInfo {
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}

	if len(final) > 0 {
		if err := s.source.Write(final); err != nil {
			s.errMsg = Message(err)
		}
	}
	blob, err := s.source.Close()
	s.source = nil
	if err != nil {
		s.errMsg = Message(err)
		m.logger.Error("Failed to finalise recording",
			slog.String("session_id", s.id),
			slog.String("error", err.Error()),
		)
	}
	s.blob = m.trim(s.id, blob)

	return m.finishStopLocked(s)
}

// finishStopLocked marks s stopped and releases s.mu.
func (m *Manager) finishStopLocked(s *session) SessionInfo {
	s.status = StatusStopped
	s.updatedAt = time.Now()

	m.logger.Info("Capture session stopped",
		slog.String("session_id", s.id),
		slog.Int("elapsed_seconds", s.elapsed),
		slog.Int("blob_bytes", len(s.blob.Data)),
	)

	return m.unlockAndNotify(s, StatusRecording)
}

// trim cuts WAV recordings to the recording limit. Other containers are
// bounded by the elapsed timer alone.
func (m *Manager) trim(id string, blob Blob) Blob {
	if !audio.IsWAV(blob.Data) {
		return blob
	}
	data, trimmed, err := audio.Trim(blob.Data, m.config.MaxRecording)
	if err != nil {
		m.logger.Warn("Could not inspect WAV recording",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return blob
	}
	if trimmed {
		m.logger.Info("Trimmed recording to the limit",
			slog.String("session_id", id),
			slog.Duration("limit", m.config.MaxRecording),
		)
	}
	return Blob{ContentType: "audio/wav", Data: data}
}

// Submit sends the captured blob to the processor with exactly one call and
// blocks until the session is saved or in error. The returned error covers
// preconditions only; a failed call is reported through the session's Error.
func (m *Manager) Submit(ctx context.Context, id string) (SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return SessionInfo{}, err
	}

	s.mu.Lock()
	switch {
	case s.status == StatusProcessing:
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrBusy
	case !s.status.CanTransition(StatusProcessing):
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, transitionError(info.Status, StatusProcessing)
	case s.blob.Empty():
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrEmptyBlob
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prev := s.status
	s.cancelRequest = cancel
	s.status = StatusProcessing
	s.result = ""
	s.errMsg = ""
	s.touch()
	job := Job{SessionID: s.id, Kind: s.kind, Language: s.lang, Blob: s.blob}
	m.unlockAndNotify(s, prev)

	m.logger.Info("Submitting capture session",
		slog.String("session_id", s.id),
		slog.String("kind", string(job.Kind)),
		slog.String("language", job.Language.String()),
		slog.Int("blob_bytes", len(job.Blob.Data)),
	)

	startTime := time.Now()
	text, procErr := m.process(reqCtx, job)
	duration := time.Since(startTime)

	s.mu.Lock()
	s.cancelRequest = nil
	if s.removed {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrAbandoned
	}

	if procErr != nil {
		s.status = StatusError
		s.errMsg = Message(procErr)
		m.logger.Error("Capture processing failed",
			slog.String("session_id", s.id),
			slog.String("error", procErr.Error()),
			slog.Float64("duration", duration.Seconds()),
		)
	} else {
		s.status = StatusSaved
		s.result = text
		m.logger.Info("Capture processing completed",
			slog.String("session_id", s.id),
			slog.Int("text_length", len(text)),
			slog.Float64("duration", duration.Seconds()),
		)
	}
	s.updatedAt = time.Now()

	return m.unlockAndNotify(s, StatusProcessing), nil
}

// process calls the processor, turning a panic into an error so a session
// never stays in processing.
func (m *Manager) process(ctx context.Context, job Job) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return m.config.Processor.Process(ctx, job)
}

// Reset returns a finished session to idle, discarding its blob and result.
func (m *Manager) Reset(id string) (SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return SessionInfo{}, err
	}

	s.mu.Lock()
	if s.status == StatusProcessing {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, ErrBusy
	}
	if !s.status.CanTransition(StatusIdle) {
		info := s.snapshotLocked(m.maxSeconds)
		s.mu.Unlock()
		return info, transitionError(info.Status, StatusIdle)
	}

	prev := s.status
	s.status = StatusIdle
	s.elapsed = 0
	s.blob = Blob{}
	s.pad = nil
	s.result = ""
	s.errMsg = ""
	s.touch()

	return m.unlockAndNotify(s, prev), nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(m.maxSeconds), nil
}

// Blob returns the captured data of a session.
func (m *Manager) Blob(id string) (Blob, error) {
	s, err := m.get(id)
	if err != nil {
		return Blob{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]byte, len(s.blob.Data))
	copy(data, s.blob.Data)
	return Blob{ContentType: s.blob.ContentType, Data: data}, nil
}

// List returns the sessions of owner, or every session when owner is empty,
// oldest first.
func (m *Manager) List(owner string) []SessionInfo {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if owner == "" || s.owner == owner {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		infos = append(infos, s.snapshotLocked(m.maxSeconds))
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Remove destroys a session, releasing its source and abandoning any
// in-flight request.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}
	m.destroy(s)
	return true
}

// GetActiveSessionCount returns the number of sessions currently recording
func (m *Manager) GetActiveSessionCount() int {
	count := 0
	for _, info := range m.List("") {
		if info.Status == StatusRecording {
			count++
		}
	}
	return count
}

// Stats returns the number of sessions per status.
func (m *Manager) Stats() map[Status]int {
	stats := make(map[Status]int)
	for _, info := range m.List("") {
		stats[info.Status]++
	}
	return stats
}

// Watch streams snapshots of one session, starting with the current one.
// The channel is closed when the session is removed or cancel is called.
// Slow readers miss intermediate snapshots but always receive the latest.
func (m *Manager) Watch(id string) (<-chan SessionInfo, func(), error) {
	info, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan SessionInfo, watchBuffer)
	ch <- info

	m.wmu.Lock()
	if m.watchers[id] == nil {
		m.watchers[id] = make(map[chan SessionInfo]struct{})
	}
	m.watchers[id][ch] = struct{}{}
	m.wmu.Unlock()

	// The session may have gone away before registration.
	if _, err := m.get(id); err != nil {
		m.closeWatchers(id)
	}

	cancel := func() {
		m.wmu.Lock()
		defer m.wmu.Unlock()
		if set, ok := m.watchers[id]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(m.watchers, id)
			}
		}
	}
	return ch, cancel, nil
}

// Close removes every session and waits for background goroutines.
func (m *Manager) Close() {
	m.logger.Info("Stopping capture manager...")

	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.destroy(s)
	}

	m.cancel()
	<-m.cleanup
	m.wg.Wait()

	m.logger.Info("Capture manager stopped", slog.Int("removed_sessions", len(sessions)))
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// replaceOwnerSessions removes the sessions of owner and inserts next in
// their place. The removed sessions still have to be destroyed.
func (m *Manager) replaceOwnerSessions(owner string, next *session) []*session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var taken []*session
	for id, s := range m.sessions {
		if s.owner == owner {
			taken = append(taken, s)
			delete(m.sessions, id)
		}
	}
	m.sessions[next.id] = next
	return taken
}

// destroy releases everything a session holds. The session must already be
// out of the map.
func (m *Manager) destroy(s *session) {
	s.mu.Lock()
	s.removed = true
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
	if s.source != nil {
		if _, err := s.source.Close(); err != nil {
			m.logger.Warn("Failed to release audio source",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()),
			)
		}
		s.source = nil
	}
	if s.cancelRequest != nil {
		s.cancelRequest()
	}
	s.blob = Blob{}
	s.mu.Unlock()

	m.closeWatchers(s.id)

	m.logger.Info("Capture session removed",
		slog.String("session_id", s.id),
		slog.Duration("lifetime", time.Since(s.createdAt)),
	)
}

// unlockAndNotify snapshots s, releases s.mu and delivers the snapshot to
// observers and watchers.
func (m *Manager) unlockAndNotify(s *session, prev Status) SessionInfo {
	info := s.snapshotLocked(m.maxSeconds)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, o := range m.config.Observers {
		o.SessionChanged(prev, info)
	}

	m.wmu.Lock()
	for ch := range m.watchers[info.ID] {
		select {
		case ch <- info:
		default:
			// Full: drop the oldest snapshot so the latest state always
			// arrives. Senders are serialised by wmu.
			select {
			case <-ch:
			default:
			}
			ch <- info
		}
	}
	m.wmu.Unlock()

	return info
}

func (m *Manager) closeWatchers(id string) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	for ch := range m.watchers[id] {
		close(ch)
	}
	delete(m.watchers, id)
}

// runTicker advances the elapsed counter of a recording session.
func (m *Manager) runTicker(ctx context.Context, s *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.tick(s) {
				return
			}
		}
	}
}

// tick reports whether the session is still recording.
func (m *Manager) tick(s *session) bool {
	s.mu.Lock()
	if s.removed || s.status != StatusRecording {
		s.mu.Unlock()
		return false
	}

	s.elapsed++
	s.updatedAt = time.Now()

	if s.kind == KindAudio && s.elapsed >= m.maxSeconds {
		m.logger.Info("Recording limit reached, stopping",
			slog.String("session_id", s.id),
			slog.Int("elapsed_seconds", s.elapsed),
		)
		m.stopLocked(s, nil)
		return false
	}

	m.unlockAndNotify(s, StatusRecording)
	return true
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Capture cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Capture cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		lastActivity := s.lastActivity
		s.mu.Unlock()

		if now.Sub(lastActivity) > m.config.SessionTimeout {
			expired = append(expired, s.id)
		}
	}

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, id := range expired {
			m.Remove(id)
		}
	}
}

// Message converts an error from any capture operation into text for the user.
func Message(err error) string {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe.Message()
	}
	return remote.Message(err)
}
