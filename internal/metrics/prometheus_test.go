package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/remote"
)

func TestSessionChanged(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	info := capture.SessionInfo{Kind: capture.KindAudio, Language: language.Hindi}

	info.Status = capture.StatusIdle
	m.SessionChanged("", info)
	info.Status = capture.StatusRecording
	m.SessionChanged(capture.StatusIdle, info)
	info.ElapsedSeconds = 1
	m.SessionChanged(capture.StatusRecording, info) // tick
	info.Status = capture.StatusStopped
	info.HasBlob = true
	info.BlobBytes = 4096
	m.SessionChanged(capture.StatusRecording, info)
	info.Status = capture.StatusProcessing
	m.SessionChanged(capture.StatusStopped, info)
	info.Status = capture.StatusError
	m.SessionChanged(capture.StatusProcessing, info)

	if got := testutil.ToFloat64(m.SessionsStarted.WithLabelValues("audio", "hindi")); got != 1 {
		t.Errorf("Expected 1 started session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionTransitions.WithLabelValues("recording", "stopped")); got != 1 {
		t.Errorf("Expected 1 recording->stopped transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionTransitions.WithLabelValues("recording", "recording")); got != 0 {
		t.Errorf("Ticks must not count as transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionResults.WithLabelValues("audio", "error")); got != 1 {
		t.Errorf("Expected 1 error result, got %v", got)
	}
	if got := testutil.CollectAndCount(m.RecordingDuration); got != 1 {
		t.Errorf("Expected recording duration histogram to be collected, got %d", got)
	}
}

func TestObserveRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveRequest("ocr", 200*time.Millisecond, nil)
	m.ObserveRequest("ocr", time.Second, &remote.Error{Service: "ocr", Kind: remote.KindStatus, StatusCode: 502})
	m.ObserveRequest("speech", time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(m.UploadRequests.WithLabelValues("ocr")); got != 2 {
		t.Errorf("Expected 2 ocr requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.UploadFailures.WithLabelValues("ocr", "status")); got != 1 {
		t.Errorf("Expected 1 ocr status failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.UploadFailures.WithLabelValues("speech", "other")); got != 1 {
		t.Errorf("Expected 1 unclassified speech failure, got %v", got)
	}
}

func TestActiveRecordingsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	active := 3
	m.ObserveActiveRecordings(func() int { return active })

	if got, err := testutil.GatherAndCount(reg, "scribblesense_active_recordings"); err != nil || got != 1 {
		t.Fatalf("Expected gauge to be registered, got %d (%v)", got, err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() == "scribblesense_active_recordings" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 3 {
				t.Errorf("Expected 3 active recordings, got %v", v)
			}
		}
	}
}

func TestHTTPMetrics(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
	m.RecordHTTPError("POST", "/api/ocr", "client_error")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("Expected 1 request, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("POST", "/api/ocr", "client_error")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}
