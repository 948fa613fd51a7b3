package viewer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizflow/vizflow/internal/history"
	"github.com/vizflow/vizflow/internal/streaming"
	"github.com/vizflow/vizflow/pkg/schema"
)

type serverHarness struct {
	srv    *httptest.Server
	mgr    *Manager
	store  history.Store
	engine *fakeEngine
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()

	store := history.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	engine := &fakeEngine{}
	mgr := NewManager(store, hub, engine, testSchedulerConfig(), testLogger())

	server := NewServer(Deps{
		Store:   store,
		Manager: mgr,
		Hub:     hub,
		Logger:  testLogger(),
	})
	srv := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
	})
	return &serverHarness{srv: srv, mgr: mgr, store: store, engine: engine}
}

func (h *serverHarness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *serverHarness) createSession(t *testing.T, title string) *history.Session {
	t.Helper()
	resp := h.postJSON(t, "/api/sessions", map[string]string{"title": title})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	session := decodeJSON[history.Session](t, resp)
	return &session
}

func TestServer_SessionLifecycle(t *testing.T) {
	h := newServerHarness(t)
	ctx := context.Background()

	session := h.createSession(t, "lifecycle")

	// The new session shows up in the listing.
	resp, err := http.Get(h.srv.URL + "/api/sessions")
	require.NoError(t, err)
	listing := decodeJSON[map[string][]*history.Session](t, resp)
	require.Len(t, listing["sessions"], 1)
	assert.Equal(t, "lifecycle", listing["sessions"][0].Title)

	// Posting a message returns its container and registers one diagram.
	resp = h.postJSON(t, "/api/sessions/"+session.ID+"/messages", map[string]string{
		"role": history.RoleUser,
		"body": diagramBody,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	posted := decodeJSON[struct {
		Message     *history.Message `json:"message"`
		ContainerID string           `json:"container_id"`
		HTML        string           `json:"html"`
		Diagrams    int              `json:"diagrams"`
	}](t, resp)
	assert.Equal(t, 1, posted.Diagrams)
	assert.Contains(t, posted.HTML, "diagram-placeholder")

	// After the scheduler settles, the document endpoint reports it processed.
	rt, err := h.mgr.Acquire(ctx, session.ID)
	require.NoError(t, err)
	settle(t, rt)

	resp, err = http.Get(h.srv.URL + "/api/sessions/" + session.ID + "/document")
	require.NoError(t, err)
	doc := decodeJSON[struct {
		Theme    string `json:"theme"`
		Diagrams []struct {
			ID      string `json:"id"`
			State   string `json:"state"`
			Content string `json:"content"`
		} `json:"diagrams"`
	}](t, resp)
	require.Len(t, doc.Diagrams, 1)
	assert.Equal(t, string(schema.StateProcessed), doc.Diagrams[0].State)
	assert.Contains(t, doc.Diagrams[0].Content, "<svg")

	// Theme switch persists and re-renders.
	resp = h.postJSON(t, "/api/sessions/"+session.ID+"/theme", map[string]string{"theme": "dark"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	settle(t, rt)

	stored, err := h.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "dark", stored.Theme)
}

func TestServer_Pages(t *testing.T) {
	h := newServerHarness(t)

	session := h.createSession(t, "page render check")

	resp, err := http.Get(h.srv.URL + "/")
	require.NoError(t, err)
	body := readAll(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "page render check")

	resp, err = http.Get(h.srv.URL + "/sessions/" + session.ID)
	require.NoError(t, err)
	body = readAll(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, session.ID)

	resp, err = http.Get(h.srv.URL + "/sessions/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Validation(t *testing.T) {
	h := newServerHarness(t)

	session := h.createSession(t, "validation")

	resp := h.postJSON(t, "/api/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/api/sessions/"+session.ID+"/messages", map[string]string{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/api/sessions/ghost/messages", map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/api/sessions/"+session.ID+"/theme", map[string]string{"theme": "sepia"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_SSEDeliversRenderEvents(t *testing.T) {
	h := newServerHarness(t)

	session := h.createSession(t, "sse")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/api/sessions/"+session.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
		close(events)
	}()

	h.postJSON(t, "/api/sessions/"+session.ID+"/messages", map[string]string{
		"role": history.RoleUser,
		"body": diagramBody,
	}).Body.Close()

	seen := make(map[string]bool)
	for !seen[schema.EventRenderCompleted] {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "SSE stream ended before render_completed, saw %v", seen)
			seen[ev] = true
		case <-ctx.Done():
			t.Fatalf("timed out waiting for render_completed, saw %v", seen)
		}
	}
	assert.True(t, seen[schema.EventBatchFlushed])
	assert.True(t, seen[schema.EventDiagramAdmitted])
	assert.True(t, seen[schema.EventRenderStarted])
}

func TestServer_WebSocketViewportChannel(t *testing.T) {
	h := newServerHarness(t)

	session := h.createSession(t, "ws")

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/sessions/" + session.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(viewportRequest{Type: "scroll", Top: 1500, Height: 800}))

	var ack viewportResponse
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, 1500.0, ack.Top)

	rt, err := h.mgr.Acquire(context.Background(), session.ID)
	require.NoError(t, err)
	vp := rt.Viewport()
	assert.Equal(t, 1500.0, vp.Top)
	assert.Equal(t, 800.0, vp.Height)

	require.NoError(t, conn.WriteJSON(viewportRequest{Type: "resize", Top: 0, Height: 100}))
	var errResp viewportResponse
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Equal(t, "error", errResp.Type)
	assert.Contains(t, errResp.Error, "unknown message type")
}

func TestServer_WebSocketUnknownSession(t *testing.T) {
	h := newServerHarness(t)

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/sessions/ghost"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}
