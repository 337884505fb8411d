package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribblesense/scribblesense/internal/audio"
	"github.com/scribblesense/scribblesense/internal/auth"
	"github.com/scribblesense/scribblesense/internal/canvas"
	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/catalog"
	"github.com/scribblesense/scribblesense/internal/config"
	"github.com/scribblesense/scribblesense/internal/export"
	"github.com/scribblesense/scribblesense/internal/grammar"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/metrics"
	"github.com/scribblesense/scribblesense/internal/mockapi"
	"github.com/scribblesense/scribblesense/internal/ocr"
	"github.com/scribblesense/scribblesense/internal/profile"
	"github.com/scribblesense/scribblesense/internal/remote"
	"github.com/scribblesense/scribblesense/internal/speech"
	"github.com/scribblesense/scribblesense/internal/store"
)

const testSecret = "test-secret"

type testEnv struct {
	url     string
	backend *mockapi.Server
	store   *store.ActivityStore
}

type envOption func(cfg *config.Config)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := testLogger()

	cfg := config.Default()
	for _, opt := range opts {
		opt(cfg)
	}

	backend := mockapi.New(mockapi.Config{}, logger)
	backendSrv := httptest.NewServer(backend.Handler())
	t.Cleanup(backendSrv.Close)

	ocrRemote, err := remote.NewClient(remote.Config{Service: "ocr", Endpoint: backendSrv.URL + mockapi.OCRPath})
	require.NoError(t, err)
	speechRemote, err := remote.NewClient(remote.Config{Service: "speech", Endpoint: backendSrv.URL + mockapi.TranscribePath})
	require.NoError(t, err)

	extractor := ocr.NewClient(ocrRemote, logger)
	transcriber := speech.NewHTTPTranscriber(speechRemote, logger)

	activity, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { activity.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	mgr, err := capture.NewManager(logger, capture.Config{
		TickInterval: time.Hour,
		Processor:    &capture.ServiceProcessor{Speech: transcriber, OCR: extractor},
		Observers:    []capture.Observer{m, activity},
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	verifier, err := auth.NewVerifier(auth.Config{Enabled: cfg.Auth.Enabled, HMACSecret: cfg.Auth.HMACSecret})
	require.NoError(t, err)

	h, err := NewHTTPServer(logger, Dependencies{
		Config:   cfg,
		Sessions: mgr,
		OCR:      extractor,
		Speech:   transcriber,
		Grammar:  grammar.NewRuleChecker(),
		Catalog:  catalog.Default(),
		Activity: activity,
		Profiles: activity,
		Auth:     verifier,
		Metrics:  m,
		Gatherer: reg,
		Clients:  []*remote.Client{ocrRemote, speechRemote},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{url: srv.URL, backend: backend, store: activity}
}

func withAuth(cfg *config.Config) {
	cfg.Auth.Enabled = true
	cfg.Auth.HMACSecret = testSecret
}

func token(t *testing.T, subject string) string {
	t.Helper()
	claims := auth.Claims{
		Email:          subject + "@example.com",
		StandardClaims: jwt.StandardClaims{Subject: subject, ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// envelope is the common response shape.
type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Session capture.SessionInfo `json:"session"`
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.url+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postJSON(t *testing.T, path, tok string, payload interface{}) (*http.Response, envelope) {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	resp := e.do(t, http.MethodPost, path, tok, body, "application/json")
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])

	resp = env.do(t, http.MethodGet, "/", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		Endpoints map[string]string `json:"endpoints"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Contains(t, doc.Endpoints, "POST /api/sessions/{id}/submit")

	resp = env.do(t, http.MethodGet, "/config", "", nil, "")
	data, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(data), "api_key")
}

func TestCanvasSessionFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, started := env.postJSON(t, "/api/sessions", "", map[string]string{"kind": "canvas", "language": "hindi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, started.Success)
	id := started.Session.ID
	assert.Equal(t, capture.StatusRecording, started.Session.Status)
	assert.Equal(t, auth.MockUser.ID, started.Session.Owner)

	resp, drawn := env.postJSON(t, "/api/sessions/"+id+"/strokes", "", map[string]interface{}{
		"strokes": []canvas.Stroke{{Points: []canvas.Point{{X: 10, Y: 10}, {X: 120, Y: 90}}}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, drawn.Session.Strokes)

	resp, stopped := env.postJSON(t, "/api/sessions/"+id+"/stop", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, capture.StatusStopped, stopped.Session.Status)
	assert.True(t, stopped.Session.HasBlob)

	resp, submitted := env.postJSON(t, "/api/sessions/"+id+"/submit", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, submitted.Success, submitted.Message)
	assert.Equal(t, capture.StatusSaved, submitted.Session.Status)
	assert.True(t, strings.HasPrefix(submitted.Session.Result, "महत्वपूर्ण नोट्स:"))
	assert.Equal(t, 1, env.backend.Hits(mockapi.OCRPath))

	// The saved result can be exported.
	resp = env.do(t, http.MethodPost, "/api/export/docx", "", strings.NewReader(`{"sessionId":"`+id+`"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentType, resp.Header.Get("Content-Type"))

	// The finished submit reaches the dashboard through the activity store.
	resp = env.do(t, http.MethodGet, "/api/dashboard", "", nil, "")
	var dash struct {
		Data struct {
			Stats struct {
				TotalSubmissions int `json:"totalSubmissions"`
			} `json:"stats"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dash))
	assert.Equal(t, 48, dash.Data.Stats.TotalSubmissions)

	resp, reset := env.postJSON(t, "/api/sessions/"+id+"/reset", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, capture.StatusIdle, reset.Session.Status)
	assert.Empty(t, reset.Session.Result)

	resp = env.do(t, http.MethodDelete, "/api/sessions/"+id, "", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/sessions/"+id, "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAudioSessionFlow(t *testing.T) {
	env := newTestEnv(t)

	_, started := env.postJSON(t, "/api/sessions", "", map[string]string{"kind": "audio", "language": "punjabi"})
	id := started.Session.ID
	require.NotEmpty(t, id)
	assert.Equal(t, 30, started.Session.MaxSeconds)

	wav, err := audio.EncodeWAV(make([]int16, 8000), 8000)
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/audio", "", bytes.NewReader(wav), "audio/wav")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, stopped := env.postJSON(t, "/api/sessions/"+id+"/stop", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", stopped.Session.ContentType)

	_, submitted := env.postJSON(t, "/api/sessions/"+id+"/submit", "", nil)
	require.True(t, submitted.Success, submitted.Message)
	assert.NotEmpty(t, submitted.Session.Result)
	assert.Equal(t, 1, env.backend.Hits(mockapi.TranscribePath))

	// Appending after stop is a conflict.
	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/audio", "", bytes.NewReader(wav), "audio/wav")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		payload map[string]string
		status  int
	}{
		{"bad language", map[string]string{"kind": "audio", "language": "french"}, http.StatusBadRequest},
		{"bad kind", map[string]string{"kind": "video", "language": "english"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.postJSON(t, "/api/sessions", "", tt.payload)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, body.Success)
		})
	}

	t.Run("submit without capture", func(t *testing.T) {
		_, started := env.postJSON(t, "/api/sessions", "", map[string]string{"kind": "canvas", "language": "english"})
		_, _ = env.postJSON(t, "/api/sessions/"+started.Session.ID+"/stop", "", nil)

		resp, body := env.postJSON(t, "/api/sessions/"+started.Session.ID+"/submit", "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "Nothing was captured yet.", body.Message)
		assert.Equal(t, 0, env.backend.Hits(mockapi.OCRPath))
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, _ := env.postJSON(t, "/api/sessions/missing/stop", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, withAuth)

	resp := env.do(t, http.MethodGet, "/api/me", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Ops endpoints stay open.
	resp = env.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	alice := token(t, "alice")
	resp = env.do(t, http.MethodGet, "/api/me", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		User auth.User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "alice", me.User.ID)

	_, started := env.postJSON(t, "/api/sessions", alice, map[string]string{"kind": "canvas", "language": "english"})
	require.NotEmpty(t, started.Session.ID)

	// Another user cannot see or drive the session.
	bob := token(t, "bob")
	resp = env.do(t, http.MethodGet, "/api/sessions/"+started.Session.ID, bob, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.postJSON(t, "/api/sessions/"+started.Session.ID+"/stop", bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/sessions", bob, nil, "")
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 0, list.Total)
}

func TestResources(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query  string
		status int
		total  int
	}{
		{"", http.StatusOK, 9},
		{"?language=hindi", http.StatusOK, 3},
		{"?language=all&type=video", http.StatusOK, 9},
		{"?type=article", http.StatusOK, 0},
		{"?search=grammar&language=english", http.StatusOK, 1},
		{"?language=klingon", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/resources"+tt.query, "", nil, "")
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Total     int                `json:"total"`
				Resources []catalog.Resource `json:"resources"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.total, body.Total)
			assert.Len(t, body.Resources, tt.total)
		})
	}
}

func TestGrammarCheck(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/grammar/check", "",
		strings.NewReader(`{"text":"i am going tommorow","language":"english"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool           `json:"success"`
		Data    grammar.Result `json:"data"`
		Reply   string         `json:"reply"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "I am going tomorrow.", body.Data.CorrectedText)
	assert.Contains(t, body.Reply, "<strong>Corrected:</strong>")

	resp = env.do(t, http.MethodPost, "/api/grammar/check", "",
		strings.NewReader(`{"text":"   ","language":"english"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDirectOCR(t *testing.T) {
	env := newTestEnv(t)

	pad, err := canvas.NewPad(200, 100)
	require.NoError(t, err)
	require.NoError(t, pad.Draw(canvas.Stroke{Points: []canvas.Point{{X: 5, Y: 5}, {X: 150, Y: 80}}}))
	png, err := pad.PNG()
	require.NoError(t, err)

	post := func(lang string, data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("language", lang))
		fw, err := mw.CreateFormFile("image", "page.png")
		require.NoError(t, err)
		_, _ = fw.Write(data)
		require.NoError(t, mw.Close())
		return env.do(t, http.MethodPost, "/api/ocr", "", &buf, mw.FormDataContentType())
	}

	resp := post("punjabi", png)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ExtractedText string `json:"extractedText"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Data.ExtractedText)

	resp = post("punjabi", []byte("plain text is not an image"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, env.backend.Hits(mockapi.OCRPath))
}

func TestExportEmptyText(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/export/docx", "", strings.NewReader(`{"text":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/export/docx", "", strings.NewReader(`{"text":"line one\nline two"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "ScribbleSense_Export_")
	data, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestSessionEvents(t *testing.T) {
	env := newTestEnv(t)

	_, started := env.postJSON(t, "/api/sessions", "", map[string]string{"kind": "canvas", "language": "english"})
	id := started.Session.ID

	wsURL := "ws" + strings.TrimPrefix(env.url, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() sessionEvent {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev sessionEvent
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	first := read()
	assert.Equal(t, "session", first.Type)
	assert.Equal(t, capture.StatusRecording, first.Session.Status)

	_, _ = env.postJSON(t, "/api/sessions/"+id+"/stop", "", nil)
	assert.Equal(t, capture.StatusStopped, read().Session.Status)

	// Removing the session ends the stream.
	env.do(t, http.MethodDelete, "/api/sessions/"+id, "", nil, "")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestCORSAndMetrics(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	})

	req, err := http.NewRequest(http.MethodOptions, env.url+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	env.do(t, http.MethodGet, "/api/resources?language=klingon", "", nil, "")

	resp = env.do(t, http.MethodGet, "/metrics", "", nil, "")
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), `scribblesense_http_errors_total{endpoint="/api/resources",error_type="client_error",method="GET"} 1`)
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t, withAuth)
	alice := token(t, "alice")

	getProfile := func(tok string) profile.Profile {
		t.Helper()
		resp := env.do(t, http.MethodGet, "/api/profile", tok, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Profile profile.Profile `json:"profile"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Profile
	}
	putProfile := func(tok, payload string) *http.Response {
		t.Helper()
		return env.do(t, http.MethodPut, "/api/profile", tok, strings.NewReader(payload), "application/json")
	}

	initial := getProfile(alice)
	assert.Equal(t, "alice", initial.UserID)
	assert.Equal(t, "alice@example.com", initial.Email)
	assert.Equal(t, profile.DefaultPreferences(), initial.Preferences)

	// Fields left out of the body keep their values.
	resp := putProfile(alice, `{"id":"mallory","firstName":"Alice","preferences":{"language":"hi","theme":"Light"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	saved := getProfile(alice)
	assert.Equal(t, "alice", saved.UserID)
	assert.Equal(t, "Alice", saved.FirstName)
	assert.Equal(t, language.Hindi, saved.Preferences.Language)
	assert.Equal(t, "light", saved.Preferences.Theme)
	assert.True(t, saved.Preferences.AutoCorrect)
	assert.Equal(t, "natural", saved.Preferences.PreferredVoice)

	stored, err := env.store.Profile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.FirstName)

	tests := []struct {
		name    string
		payload string
	}{
		{"unsupported language", `{"preferences":{"language":"french"}}`},
		{"unknown theme", `{"preferences":{"theme":"neon"}}`},
		{"bad email", `{"email":"nope"}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := putProfile(alice, tt.payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Equal(t, saved.Preferences, getProfile(alice).Preferences, "rejected updates change nothing")

	// Profiles are per user.
	assert.Equal(t, profile.DefaultPreferences(), getProfile(token(t, "bob")).Preferences)

	resp = env.do(t, http.MethodGet, "/api/profile", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
