//go:build portaudio

package microphone

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/scribblesense/scribblesense/internal/audio"
	"github.com/scribblesense/scribblesense/internal/capture"
)

const (
	channels        = 1
	framesPerBuffer = 1024
)

// inUse guards the single physical microphone.
var inUse sync.Mutex

// Microphone is a capture.AudioSource backed by the default input device.
type Microphone struct {
	sampleRate int
	maxSamples int
	logger     *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	samples []int16
	held    bool
}

// New creates a microphone source recording mono PCM at sampleRate for at most maxDuration.
func New(sampleRate int, maxDuration time.Duration, logger *slog.Logger) *Microphone {
	return &Microphone{
		sampleRate: sampleRate,
		maxSamples: int(maxDuration.Seconds() * float64(sampleRate)),
		logger:     logger,
	}
}

// Sources returns a factory for capture.Config.
func Sources(sampleRate int, maxDuration time.Duration, logger *slog.Logger) capture.SourceFactory {
	return func() capture.AudioSource { return New(sampleRate, maxDuration, logger) }
}

// Open initialises PortAudio and starts the input stream. Failure to open
// the device is reported as a permission error.
func (m *Microphone) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !inUse.TryLock() {
		return capture.ErrSourceBusy
	}

	if err := portaudio.Initialize(); err != nil {
		inUse.Unlock()
		return &capture.PermissionError{Source: "microphone", Err: err}
	}

	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(m.sampleRate), framesPerBuffer, m.onAudio)
	if err != nil {
		portaudio.Terminate()
		inUse.Unlock()
		return &capture.PermissionError{Source: "microphone", Err: err}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		inUse.Unlock()
		return &capture.PermissionError{Source: "microphone", Err: err}
	}

	m.mu.Lock()
	m.stream = stream
	m.held = true
	m.mu.Unlock()

	m.logger.Debug("Microphone opened", slog.Int("sample_rate", m.sampleRate))
	return nil
}

func (m *Microphone) onAudio(in []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.maxSamples - len(m.samples)
	if room <= 0 {
		return
	}
	if len(in) > room {
		in = in[:room]
	}
	m.samples = append(m.samples, in...)
}

// Write is not supported: the device produces its own audio.
func (m *Microphone) Write(chunk []byte) error {
	return capture.ErrNotWritable
}

// Close stops the stream, releases the device and encodes the recording as WAV.
func (m *Microphone) Close() (capture.Blob, error) {
	m.mu.Lock()
	stream := m.stream
	held := m.held
	m.stream = nil
	m.held = false
	m.mu.Unlock()

	if !held {
		return capture.Blob{}, nil
	}

	if err := stream.Stop(); err != nil {
		m.logger.Warn("Failed to stop microphone stream", slog.String("error", err.Error()))
	}
	if err := stream.Close(); err != nil {
		m.logger.Warn("Failed to close microphone stream", slog.String("error", err.Error()))
	}
	if err := portaudio.Terminate(); err != nil {
		m.logger.Warn("Failed to terminate portaudio", slog.String("error", err.Error()))
	}
	inUse.Unlock()

	m.mu.Lock()
	samples := m.samples
	m.samples = nil
	m.mu.Unlock()

	m.logger.Debug("Microphone closed", slog.Int("samples", len(samples)))

	if len(samples) == 0 {
		return capture.Blob{}, nil
	}

	data, err := audio.EncodeWAV(samples, m.sampleRate)
	if err != nil {
		return capture.Blob{}, fmt.Errorf("failed to encode recording: %w", err)
	}
	return capture.Blob{ContentType: "audio/wav", Data: data}, nil
}
