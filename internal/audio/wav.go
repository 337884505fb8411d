package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/youpy/go-wav"
)

var (
	// ErrNotWAV is returned for data without a RIFF/WAVE header.
	ErrNotWAV = errors.New("not a WAV file")
	// ErrUnsupportedFormat is returned for WAV encodings other than integer PCM.
	ErrUnsupportedFormat = errors.New("unsupported WAV encoding")
)

// Info describes a WAV file.
type Info struct {
	SampleRate    uint32        `json:"sample_rate"`
	Channels      uint16        `json:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample"`
	Duration      time.Duration `json:"duration"`
	NumSamples    uint32        `json:"num_samples"`
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ContentType guesses the MIME type of a recorded blob.
func ContentType(data []byte) string {
	switch {
	case IsWAV(data):
		return "audio/wav"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return "audio/webm"
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return "audio/ogg"
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return "audio/mpeg"
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Inspect reads the format and duration of a WAV file.
func Inspect(data []byte) (*Info, error) {
	if !IsWAV(data) {
		return nil, ErrNotWAV
	}

	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.SampleRate == 0 || format.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid WAV format: sample rate %d, block align %d", format.SampleRate, format.BlockAlign)
	}

	duration, err := r.Duration()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV duration: %w", err)
	}

	return &Info{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		Duration:      duration,
		NumSamples:    r.WavData.Size / uint32(format.BlockAlign),
	}, nil
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	frames := make([]wav.Sample, len(samples))
	for i, s := range samples {
		frames[i].Values[0] = int(s)
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(samples)*2)
	w := wav.NewWriter(&buf, uint32(len(samples)), 1, uint32(sampleRate), 16)
	if err := w.WriteSamples(frames); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes mono PCM-16 WAV data back to samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	if !IsWAV(data) {
		return nil, 0, ErrNotWAV
	}

	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV format: %w", err)
	}

	if format.AudioFormat != wav.AudioFormatPCM {
		return nil, 0, fmt.Errorf("%w: format %d", ErrUnsupportedFormat, format.AudioFormat)
	}

	if format.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}

	if format.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", format.NumChannels)
	}

	frames, err := readAll(r, 0)
	if err != nil {
		return nil, 0, err
	}
	if len(frames) == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, len(frames))
	for i, f := range frames {
		samples[i] = int16(f.Values[0])
	}

	return samples, int(format.SampleRate), nil
}

// Trim cuts a PCM WAV file down to limit. Data already within the limit is
// returned unchanged and trimmed is false.
func Trim(data []byte, limit time.Duration) (out []byte, trimmed bool, err error) {
	info, err := Inspect(data)
	if err != nil {
		return nil, false, err
	}
	if info.Duration <= limit {
		return data, false, nil
	}

	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.NumChannels > 2 {
		return nil, false, fmt.Errorf("%w: format %d, %d channels", ErrUnsupportedFormat, format.AudioFormat, format.NumChannels)
	}

	keep := uint32(limit.Seconds() * float64(format.SampleRate))
	frames, err := readAll(r, keep)
	if err != nil {
		return nil, false, err
	}

	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(frames)), format.NumChannels, format.SampleRate, format.BitsPerSample)
	if err := w.WriteSamples(frames); err != nil {
		return nil, false, fmt.Errorf("failed to write trimmed audio: %w", err)
	}

	return buf.Bytes(), true, nil
}

// readAll reads up to limit frames, or every frame when limit is 0.
func readAll(r *wav.Reader, limit uint32) ([]wav.Sample, error) {
	var frames []wav.Sample
	for limit == 0 || uint32(len(frames)) < limit {
		want := uint32(4096)
		if limit > 0 && limit-uint32(len(frames)) < want {
			want = limit - uint32(len(frames))
		}

		batch, err := r.ReadSamples(want)
		frames = append(frames, batch...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audio samples: %w", err)
		}
		if len(batch) == 0 {
			break
		}
	}
	return frames, nil
}
