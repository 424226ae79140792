package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kletsmajoor/klets/pkg/config"
	"github.com/kletsmajoor/klets/pkg/pipeline"
	"github.com/kletsmajoor/klets/pkg/session"
)

type fakeProcessor struct {
	resp *pipeline.Response
	err  error
	last pipeline.Request
}

func (f *fakeProcessor) Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestServer(t *testing.T, proc *fakeProcessor, store session.Store) http.Handler {
	t.Helper()
	cfg := config.ServerConfig{}
	cfg.SetDefaults()
	return New(cfg, proc, store).Routes()
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{}, session.NewMemStore())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestChatReturnsPipelineResponse(t *testing.T) {
	proc := &fakeProcessor{resp: &pipeline.Response{
		MainAnswer: "Een DPIA is een risicoanalyse.",
		SessionID:  "sess-1",
		ExchangeID: "ex-abc12345",
	}}
	h := newTestServer(t, proc, session.NewMemStore())

	body := `{"message": "Wat is een DPIA?", "session_id": "sess-1"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat/memory", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Een DPIA is een risicoanalyse.", resp.MainAnswer)
	assert.Equal(t, "sess-1", proc.last.SessionID)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{}, session.NewMemStore())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat/memory", strings.NewReader(`{"message": "  "}`)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, invalidRequestMsg, resp.MainAnswer)
	assert.Equal(t, "low", resp.ConfidenceLevel)
}

func TestChatRejectsMalformedBody(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{}, session.NewMemStore())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat/memory", strings.NewReader(`{not json`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatSurfacesProcessorFailure(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("graph exploded")}
	h := newTestServer(t, proc, session.NewMemStore())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat/memory", strings.NewReader(`{"message": "hoi"}`)))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, internalErrorMsg, resp.MainAnswer)
	assert.Equal(t, "graph exploded", resp.Error)
}

func TestGetSession(t *testing.T) {
	store := session.NewMemStore()
	mem, err := store.Create()
	require.NoError(t, err)
	mem.MessageCount = 3
	mem.Summary = "korte samenvatting"
	require.NoError(t, store.Save(mem))

	h := newTestServer(t, &fakeProcessor{}, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/"+mem.SessionID, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var summary sessionSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, mem.SessionID, summary.SessionID)
	assert.Equal(t, 3, summary.MessageCount)
	assert.Equal(t, "korte samenvatting", summary.Summary)
}

func TestGetSessionNotFound(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{}, session.NewMemStore())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/onbekend", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_found")
}

func TestDeleteSessionIdempotent(t *testing.T) {
	store := session.NewMemStore()
	mem, err := store.Create()
	require.NoError(t, err)

	h := newTestServer(t, &fakeProcessor{}, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+mem.SessionID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	// Deleting again is still a 200, the body flags it.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+mem.SessionID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"not_found"`)
}

func TestFAQReloadWithoutIndex(t *testing.T) {
	h := newTestServer(t, &fakeProcessor{}, session.NewMemStore())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/faq/reload", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
