package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scribblesense/scribblesense/internal/audio"
	"github.com/scribblesense/scribblesense/internal/canvas"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/remote"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingProcessor records every call and answers with fn.
type countingProcessor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, job Job) (string, error)
}

func (p *countingProcessor) Process(ctx context.Context, job Job) (string, error) {
	p.calls.Add(1)
	if p.fn == nil {
		return "transcribed " + string(job.Language), nil
	}
	return p.fn(ctx, job)
}

type transitionLog struct {
	mu    sync.Mutex
	moves []string
}

func (l *transitionLog) SessionChanged(prev Status, info SessionInfo) {
	if prev == info.Status {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.moves = append(l.moves, string(prev)+">"+string(info.Status))
}

func (l *transitionLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.moves...)
}

func newTestManager(t *testing.T, p Processor, mutate func(*Config)) *Manager {
	t.Helper()
	config := Config{
		MaxRecording:    3 * time.Second,
		TickInterval:    time.Hour, // ticks are driven explicitly unless a test shortens this
		SessionTimeout:  time.Hour,
		CleanupInterval: time.Hour,
		Processor:       p,
	}
	if mutate != nil {
		mutate(&config)
	}
	mgr, err := NewManager(testLogger(), config)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr
}

func wavBlob(t *testing.T, seconds float64) []byte {
	t.Helper()
	samples := make([]int16, int(8000*seconds))
	for i := range samples {
		samples[i] = int16(i % 500)
	}
	data, err := audio.EncodeWAV(samples, 8000)
	require.NoError(t, err)
	return data
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(testLogger(), Config{})
	assert.Error(t, err, "processor is required")

	_, err = NewManager(testLogger(), Config{Processor: &countingProcessor{}, MaxRecording: time.Minute})
	assert.Error(t, err, "recording limit above 30s must be rejected")
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusIdle, StatusRecording, true},
		{StatusRecording, StatusStopped, true},
		{StatusStopped, StatusProcessing, true},
		{StatusProcessing, StatusSaved, true},
		{StatusProcessing, StatusError, true},
		{StatusSaved, StatusIdle, true},
		{StatusError, StatusIdle, true},
		{StatusError, StatusProcessing, true},
		{StatusIdle, StatusProcessing, false},
		{StatusRecording, StatusProcessing, false},
		{StatusProcessing, StatusIdle, false},
		{StatusSaved, StatusProcessing, false},
		{StatusSaved, StatusRecording, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestAudioSessionLifecycle(t *testing.T) {
	proc := &countingProcessor{}
	log := &transitionLog{}
	mgr := newTestManager(t, proc, func(c *Config) { c.Observers = []Observer{log} })
	ctx := context.Background()

	info, err := mgr.Start(ctx, "user-1", KindAudio, language.Hindi)
	require.NoError(t, err)
	assert.Equal(t, StatusRecording, info.Status)
	assert.Equal(t, 3, info.MaxSeconds)
	assert.False(t, info.CanSubmit())

	blob := wavBlob(t, 1)
	require.NoError(t, mgr.Append(info.ID, blob[:100]))

	info, err = mgr.Stop(info.ID, blob[100:])
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, info.Status)
	assert.Equal(t, len(blob), info.BlobBytes)
	assert.Equal(t, "audio/wav", info.ContentType)
	assert.True(t, info.CanSubmit())

	// Appending after stop is rejected.
	assert.ErrorIs(t, mgr.Append(info.ID, []byte("x")), ErrInvalidTransition)

	info, err = mgr.Submit(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSaved, info.Status)
	assert.Equal(t, "transcribed hindi", info.Result)
	assert.Equal(t, int32(1), proc.calls.Load())

	info, err = mgr.Reset(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, info.Status)
	assert.False(t, info.HasBlob)
	assert.Empty(t, info.Result)

	assert.Equal(t, []string{
		">idle",
		"idle>recording",
		"recording>stopped",
		"stopped>processing",
		"processing>saved",
		"saved>idle",
	}, log.get())
}

func TestRecordingAutoStopsAtLimit(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, func(c *Config) { c.TickInterval = 2 * time.Millisecond })

	info, err := mgr.Start(context.Background(), "user-1", KindAudio, language.English)
	require.NoError(t, err)
	require.NoError(t, mgr.Append(info.ID, wavBlob(t, 0.5)))

	require.Eventually(t, func() bool {
		got, _ := mgr.Get(info.ID)
		return got.Status == StatusStopped
	}, time.Second, time.Millisecond)

	got, err := mgr.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ElapsedSeconds, "elapsed never exceeds the limit")
	assert.True(t, got.HasBlob)

	// No further ticks after the automatic stop.
	time.Sleep(20 * time.Millisecond)
	got, _ = mgr.Get(info.ID)
	assert.Equal(t, 3, got.ElapsedSeconds)

	_, err = mgr.Stop(info.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWAVTrimmedOnStop(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, nil)

	info, err := mgr.Start(context.Background(), "user-1", KindAudio, language.English)
	require.NoError(t, err)

	info, err = mgr.Stop(info.ID, wavBlob(t, 5))
	require.NoError(t, err)

	blob, err := mgr.Blob(info.ID)
	require.NoError(t, err)
	wavInfo, err := audio.Inspect(blob.Data)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, wavInfo.Duration)
}

func TestCanvasSession(t *testing.T) {
	proc := &countingProcessor{fn: func(ctx context.Context, job Job) (string, error) {
		assert.Equal(t, KindCanvas, job.Kind)
		assert.Equal(t, "image/png", job.Blob.ContentType)
		return "hello", nil
	}}
	mgr := newTestManager(t, proc, func(c *Config) { c.TickInterval = 2 * time.Millisecond })
	ctx := context.Background()

	info, err := mgr.Start(ctx, "user-2", KindCanvas, language.Punjabi)
	require.NoError(t, err)
	assert.Zero(t, info.MaxSeconds)

	assert.ErrorIs(t, mgr.Append(info.ID, []byte("x")), ErrWrongKind)

	info, err = mgr.Draw(info.ID, canvas.Stroke{Points: []canvas.Point{{X: 10, Y: 10}, {X: 50, Y: 60}}})
	require.NoError(t, err)
	assert.Equal(t, 1, info.Strokes)

	// Canvas sessions have no recording limit.
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(info.ID)
		return got.ElapsedSeconds > 5
	}, time.Second, time.Millisecond)
	got, _ := mgr.Get(info.ID)
	assert.Equal(t, StatusRecording, got.Status)

	info, err = mgr.Stop(info.ID, nil)
	require.NoError(t, err)
	assert.True(t, info.HasBlob)

	info, err = mgr.Submit(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSaved, info.Status)
	assert.Equal(t, "hello", info.Result)
}

func TestCanvasClearedLeavesNothingToSubmit(t *testing.T) {
	proc := &countingProcessor{}
	mgr := newTestManager(t, proc, nil)

	info, err := mgr.Start(context.Background(), "user-2", KindCanvas, language.English)
	require.NoError(t, err)
	_, err = mgr.Draw(info.ID, canvas.Stroke{Points: []canvas.Point{{X: 1, Y: 1}}})
	require.NoError(t, err)
	_, err = mgr.Clear(info.ID)
	require.NoError(t, err)

	info, err = mgr.Stop(info.ID, nil)
	require.NoError(t, err)
	assert.False(t, info.HasBlob)

	_, err = mgr.Submit(context.Background(), info.ID)
	assert.ErrorIs(t, err, ErrEmptyBlob)
	assert.Equal(t, int32(0), proc.calls.Load())
}

func TestSubmitFailureAllowsRetryAndReset(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	proc := &countingProcessor{fn: func(ctx context.Context, job Job) (string, error) {
		if fail.Load() {
			return "", remote.Rejected("speech", "Audio could not be understood")
		}
		return "ok", nil
	}}
	mgr := newTestManager(t, proc, nil)
	ctx := context.Background()

	info, err := mgr.Start(ctx, "user-1", KindAudio, language.English)
	require.NoError(t, err)
	_, err = mgr.Stop(info.ID, wavBlob(t, 1))
	require.NoError(t, err)

	info, err = mgr.Submit(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, info.Status)
	assert.Equal(t, "Audio could not be understood", info.Error)
	assert.True(t, info.CanSubmit(), "submit is re-enabled after a failure")
	assert.Equal(t, int32(1), proc.calls.Load(), "no automatic retry")

	fail.Store(false)
	info, err = mgr.Submit(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSaved, info.Status)
	assert.Empty(t, info.Error)
	assert.Equal(t, int32(2), proc.calls.Load())
}

func TestSubmitNetworkFailureMessage(t *testing.T) {
	proc := &countingProcessor{fn: func(ctx context.Context, job Job) (string, error) {
		return "", &remote.Error{Service: "ocr", Kind: remote.KindNetwork, Err: errors.New("connection refused")}
	}}
	mgr := newTestManager(t, proc, nil)

	info, _ := mgr.Start(context.Background(), "user-1", KindAudio, language.English)
	_, _ = mgr.Stop(info.ID, wavBlob(t, 1))

	info, err := mgr.Submit(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, info.Status)
	assert.Contains(t, info.Error, "Could not reach the ocr service")
}

func TestSubmitPreconditions(t *testing.T) {
	proc := &countingProcessor{}
	mgr := newTestManager(t, proc, nil)
	ctx := context.Background()

	_, err := mgr.Submit(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	info, err := mgr.Start(ctx, "user-1", KindAudio, language.English)
	require.NoError(t, err)

	_, err = mgr.Submit(ctx, info.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "cannot submit while recording")

	_, err = mgr.Stop(info.ID, nil)
	require.NoError(t, err)
	_, err = mgr.Submit(ctx, info.ID)
	assert.ErrorIs(t, err, ErrEmptyBlob)

	assert.Equal(t, int32(0), proc.calls.Load())
}

func TestSubmitWhileProcessingIsBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	proc := &countingProcessor{fn: func(ctx context.Context, job Job) (string, error) {
		close(entered)
		<-release
		return "done", nil
	}}
	mgr := newTestManager(t, proc, nil)
	ctx := context.Background()

	info, _ := mgr.Start(ctx, "user-1", KindAudio, language.English)
	_, _ = mgr.Stop(info.ID, wavBlob(t, 1))

	done := make(chan SessionInfo)
	go func() {
		got, _ := mgr.Submit(ctx, info.ID)
		done <- got
	}()
	<-entered

	_, err := mgr.Submit(ctx, info.ID)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = mgr.Reset(info.ID)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	got := <-done
	assert.Equal(t, StatusSaved, got.Status)
	assert.Equal(t, int32(1), proc.calls.Load())
}

func TestProcessorPanicEndsInError(t *testing.T) {
	proc := &countingProcessor{fn: func(ctx context.Context, job Job) (string, error) {
		panic("boom")
	}}
	mgr := newTestManager(t, proc, nil)

	info, _ := mgr.Start(context.Background(), "user-1", KindAudio, language.English)
	_, _ = mgr.Stop(info.ID, wavBlob(t, 1))

	info, err := mgr.Submit(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, info.Status)
}

type deniedSource struct{}

func (deniedSource) Open(ctx context.Context) error {
	return &PermissionError{Source: "microphone", Err: errors.New("no input device")}
}
func (deniedSource) Write([]byte) error   { return nil }
func (deniedSource) Close() (Blob, error) { return Blob{}, nil }

func TestPermissionDeniedReturnsToIdle(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, func(c *Config) {
		c.Sources = func() AudioSource { return deniedSource{} }
	})

	info, err := mgr.Start(context.Background(), "user-1", KindAudio, language.English)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StatusIdle, info.Status)
	assert.Equal(t, "Unable to access microphone. Please check permissions.", info.Error)
	assert.Equal(t, "Unable to access microphone. Please check permissions.", Message(err))
	assert.Equal(t, 0, mgr.GetActiveSessionCount())
}

func TestStartReplacesPreviousSession(t *testing.T) {
	entered := make(chan struct{})
	proc := &countingProcessor{fn: func(ctx context.Context, job Job) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	mgr := newTestManager(t, proc, nil)
	ctx := context.Background()

	first, _ := mgr.Start(ctx, "user-1", KindAudio, language.English)
	_, _ = mgr.Stop(first.ID, wavBlob(t, 1))

	errc := make(chan error)
	go func() {
		_, err := mgr.Submit(ctx, first.ID)
		errc <- err
	}()
	<-entered

	second, err := mgr.Start(ctx, "user-1", KindAudio, language.Hindi)
	require.NoError(t, err)

	assert.ErrorIs(t, <-errc, ErrAbandoned)
	_, err = mgr.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	sessions := mgr.List("user-1")
	require.Len(t, sessions, 1)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, 1, mgr.GetActiveSessionCount())
}

func TestOwnersAreIndependent(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, nil)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "a", KindAudio, language.English)
	require.NoError(t, err)
	_, err = mgr.Start(ctx, "b", KindCanvas, language.English)
	require.NoError(t, err)

	assert.Len(t, mgr.List(""), 2)
	assert.Equal(t, 2, mgr.Stats()[StatusRecording])
}

func TestExpiredSessionsAreRemoved(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, func(c *Config) {
		c.SessionTimeout = 10 * time.Millisecond
		c.CleanupInterval = 2 * time.Millisecond
	})

	info, err := mgr.Start(context.Background(), "user-1", KindAudio, language.English)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := mgr.Get(info.ID)
		return errors.Is(err, ErrNotFound)
	}, time.Second, 2*time.Millisecond)
}

func TestWatch(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, nil)

	info, err := mgr.Start(context.Background(), "user-1", KindAudio, language.English)
	require.NoError(t, err)

	ch, cancel, err := mgr.Watch(info.ID)
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	assert.Equal(t, StatusRecording, first.Status)

	_, err = mgr.Stop(info.ID, wavBlob(t, 1))
	require.NoError(t, err)
	next := <-ch
	assert.Equal(t, StatusStopped, next.Status)

	require.True(t, mgr.Remove(info.ID))
	_, open := <-ch
	assert.False(t, open, "channel closes when the session is removed")

	_, _, err = mgr.Watch(info.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceProcessorRejectsUnknownKind(t *testing.T) {
	p := &ServiceProcessor{}
	_, err := p.Process(context.Background(), Job{Kind: KindAudio})
	assert.Error(t, err)
	_, err = p.Process(context.Background(), Job{Kind: "video"})
	assert.Error(t, err)
}

// slowWriter stretches every log write so concurrent calls interleave.
type slowWriter struct{}

func (slowWriter) Write(p []byte) (int, error) {
	time.Sleep(200 * time.Microsecond)
	return len(p), nil
}

// countedSource tracks how many sources are held open.
type countedSource struct {
	live *atomic.Int32
}

func (s countedSource) Open(ctx context.Context) error {
	s.live.Add(1)
	return nil
}
func (s countedSource) Write([]byte) error { return nil }
func (s countedSource) Close() (Blob, error) {
	s.live.Add(-1)
	return Blob{}, nil
}

func TestConcurrentStartKeepsOneSession(t *testing.T) {
	var live atomic.Int32
	logger := slog.New(slog.NewTextHandler(slowWriter{}, &slog.HandlerOptions{Level: slog.LevelInfo}))
	mgr, err := NewManager(logger, Config{
		TickInterval:    time.Hour,
		SessionTimeout:  time.Hour,
		CleanupInterval: time.Hour,
		Processor:       &countingProcessor{},
		Sources:         func() AudioSource { return countedSource{live: &live} },
	})
	require.NoError(t, err)
	defer mgr.Close()

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		begin := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-begin
				_, err := mgr.Start(context.Background(), "alice", KindAudio, language.English)
				if err != nil {
					assert.ErrorIs(t, err, ErrAbandoned)
				}
			}()
		}
		close(begin)
		wg.Wait()

		sessions := mgr.List("alice")
		require.Len(t, sessions, 1, "round %d", round)
		assert.Equal(t, StatusRecording, sessions[0].Status)
		assert.Equal(t, int32(1), live.Load(), "replaced sessions release their source")
	}
}

func TestWatchDeliversLatestWhenBehind(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, nil)

	info, err := mgr.Start(context.Background(), "user-1", KindCanvas, language.English)
	require.NoError(t, err)

	ch, cancel, err := mgr.Watch(info.ID)
	require.NoError(t, err)
	defer cancel()

	// Nobody reads while the buffer overflows.
	for i := 0; i < 2*watchBuffer; i++ {
		_, err := mgr.Draw(info.ID, canvas.Stroke{Points: []canvas.Point{{X: float32(i), Y: 10}}})
		require.NoError(t, err)
	}
	_, err = mgr.Stop(info.ID, nil)
	require.NoError(t, err)

	var last SessionInfo
	count := 0
	for drained := false; !drained; {
		select {
		case last = <-ch:
			count++
		default:
			drained = true
		}
	}
	assert.Equal(t, watchBuffer, count)
	assert.Equal(t, StatusStopped, last.Status)
	assert.True(t, last.HasBlob)
}

func TestCanvasStopWithDenseStroke(t *testing.T) {
	mgr := newTestManager(t, &countingProcessor{}, nil)

	info, err := mgr.Start(context.Background(), "user-1", KindCanvas, language.English)
	require.NoError(t, err)

	points := make([]canvas.Point, 4000)
	for i := range points {
		points[i] = canvas.Point{X: float32(i%380) + 10, Y: float32(i%200) + 50}
	}
	_, err = mgr.Draw(info.ID, canvas.Stroke{Points: points})
	require.NoError(t, err)

	start := time.Now()
	stopped, err := mgr.Stop(info.ID, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusStopped, stopped.Status)
	assert.Equal(t, "image/png", stopped.ContentType)

	_, err = mgr.Draw(info.ID, canvas.Stroke{Points: []canvas.Point{{X: 1, Y: 1}}})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
