package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
	"github.com/xhad/prepbot/pkg/assistant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAssistant struct {
	askErr    error
	loadErr   error
	loaded    []assistant.Sources
	questions []string
	cleared   int
	mode      models.AnswerMode
	length    models.AnswerLength
	evaluate  bool
}

func newFake() *fakeAssistant {
	return &fakeAssistant{mode: models.ModeDefault, length: models.LengthMedium}
}

func (f *fakeAssistant) LoadKnowledge(_ context.Context, src assistant.Sources) (*assistant.IngestReport, error) {
	f.loaded = append(f.loaded, src)
	report := &assistant.IngestReport{Namespace: "db_0a1b2c3d", Documents: 1, Chunks: 2}
	return report, f.loadErr
}

func (f *fakeAssistant) Ask(_ context.Context, q string) (*assistant.Reply, error) {
	f.questions = append(f.questions, q)
	if f.askErr != nil {
		return nil, f.askErr
	}
	return &assistant.Reply{
		QueryResult: models.QueryResult{
			Answer:           "Talk about the outage you led.",
			SourceChunks:     []models.Chunk{{Content: "on-call", Metadata: map[string]string{"source": "jd.txt"}}},
			SimilarityScores: []float64{0.9},
		},
		Evaluation: &models.Evaluation{Relevance: 8, Clarity: 8, Star: 5, Overall: 7, Feedback: "✔ specific"},
	}, nil
}

func (f *fakeAssistant) ClearHistory() { f.cleared++ }

func (f *fakeAssistant) SetStyle(mode, length string) error {
	m, err := models.ParseAnswerMode(mode)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	l, err := models.ParseAnswerLength(length)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	f.mode, f.length = m, l
	return nil
}

func (f *fakeAssistant) Style() (models.AnswerMode, models.AnswerLength) { return f.mode, f.length }
func (f *fakeAssistant) SetEvaluation(on bool)                           { f.evaluate = on }
func (f *fakeAssistant) Namespace() string                               { return "db_0a1b2c3d" }

func (f *fakeAssistant) Stats() models.Stats {
	return models.Stats{TotalQueries: 4, TotalDays: 2, Files: []string{"queries_2024-01-01.jsonl", "queries_2024-01-02.jsonl"}}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, New(newFake()).Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "db_0a1b2c3d", body["namespace"])
	assert.Equal(t, "medium", body["length"])
}

func TestAsk(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		askErr   error
		wantCode int
	}{
		{name: "answer", body: `{"question":"Why this team?"}`, wantCode: http.StatusOK},
		{name: "missing question", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "not loaded", body: `{"question":"q"}`, askErr: types.ErrNotReady, wantCode: http.StatusConflict},
		{name: "bad key", body: `{"question":"q"}`, askErr: fmt.Errorf("retrieve: %w", types.ErrAuthentication), wantCode: http.StatusUnauthorized},
		{name: "provider down", body: `{"question":"q"}`, askErr: types.ErrProviderUnavailable, wantCode: http.StatusBadGateway},
		{name: "storage", body: `{"question":"q"}`, askErr: types.ErrIndexStorage, wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			f.askErr = tt.askErr
			w := do(t, New(f).Handler(), http.MethodPost, "/api/v1/ask", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				assert.Contains(t, w.Body.String(), `"error"`)
				return
			}

			var reply struct {
				Result           string             `json:"result"`
				SimilarityScores []float64          `json:"similarity_scores"`
				Evaluation       *models.Evaluation `json:"evaluation"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
			assert.Equal(t, "Talk about the outage you led.", reply.Result)
			assert.Equal(t, []float64{0.9}, reply.SimilarityScores)
			require.NotNil(t, reply.Evaluation)
			assert.Equal(t, 7.0, reply.Evaluation.Overall)
			assert.Equal(t, []string{"Why this team?"}, f.questions)
		})
	}
}

func TestLoadKnowledge(t *testing.T) {
	f := newFake()
	h := New(f).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/knowledge", `{"text":"Go developer","urls":["https://jobs.example.com/1"]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"namespace":"db_0a1b2c3d"`)
	require.Len(t, f.loaded, 1)
	assert.Equal(t, "Go developer", f.loaded[0].PastedText)
	assert.Equal(t, []string{"https://jobs.example.com/1"}, f.loaded[0].URLs)

	w = do(t, h, http.MethodPost, "/api/v1/knowledge", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.loadErr = fmt.Errorf("%w: none loaded", types.ErrInvalidInput)
	w = do(t, h, http.MethodPost, "/api/v1/knowledge", `{"text":"unreadable"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoadKnowledgeRefusesServerPaths(t *testing.T) {
	for _, body := range []string{
		`{"files":["/etc/passwd"]}`,
		`{"cv_files":["../../.env"]}`,
		`{"text":"Go developer","files":["/root/.ssh/id_rsa"]}`,
	} {
		t.Run(body, func(t *testing.T) {
			f := newFake()
			w := do(t, New(f).Handler(), http.MethodPost, "/api/v1/knowledge", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "file paths are not accepted")
			assert.Empty(t, f.loaded)
		})
	}
}

func TestStyleHistoryStats(t *testing.T) {
	f := newFake()
	h := New(f).Handler()

	w := do(t, h, http.MethodPut, "/api/v1/style", `{"mode":"star","evaluate":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"star","length":"medium"}`, w.Body.String())
	assert.True(t, f.evaluate)

	w = do(t, h, http.MethodPut, "/api/v1/style", `{"length":"novel"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ModeStar, f.mode)

	w = do(t, h, http.MethodDelete, "/api/v1/history", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.cleared)

	w = do(t, h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_queries":4`)
}

func preflight(h http.Handler, origin string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
	r.Header.Set("Origin", origin)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestCORSPreflight(t *testing.T) {
	w := preflight(New(newFake()).Handler(), "https://evil.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	h := New(newFake(), WithAllowedOrigins("http://localhost:3000/")).Handler()
	w = preflight(h, "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, preflight(h, "https://evil.example").Header().Get("Access-Control-Allow-Origin"))

	w = preflight(New(newFake(), WithAllowedOrigins("*")).Handler(), "https://any.example")
	assert.Equal(t, "https://any.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketOrigin(t *testing.T) {
	srv := httptest.NewServer(New(newFake(), WithAllowedOrigins("http://localhost:3000")).Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	dial := func(origin string) error {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {origin}})
		if err == nil {
			conn.Close()
		}
		return err
	}

	assert.ErrorIs(t, dial("https://evil.example"), websocket.ErrBadHandshake)
	assert.NoError(t, dial("http://localhost:3000"))
	assert.NoError(t, dial(srv.URL))
}

func TestWebSocket(t *testing.T) {
	f := newFake()
	srv := httptest.NewServer(New(f).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	require.NoError(t, conn.WriteJSON(Message{Type: "ingest", Content: "Backend role https://jobs.example.com/42"}))
	assert.Equal(t, "status", read().Type)
	ready := read()
	assert.Equal(t, "status", ready.Type)
	assert.Contains(t, ready.Content, "2 chunks")
	require.Len(t, f.loaded, 1)
	assert.Equal(t, []string{"https://jobs.example.com/42"}, f.loaded[0].URLs)
	assert.Equal(t, "Backend role", f.loaded[0].PastedText)

	require.NoError(t, conn.WriteJSON(Message{Type: "ask", Content: "Biggest outage?"}))
	assert.Equal(t, "status", read().Type)
	resp := read()
	assert.Equal(t, "response", resp.Type)
	assert.Contains(t, resp.Content, "Talk about the outage you led.")
	assert.Contains(t, resp.Content, "Overall 7.0/10")

	require.NoError(t, conn.WriteJSON(Message{Type: "dance"}))
	assert.Equal(t, "error", read().Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "error", read().Type)
}
