package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mirrorcast/internal/core/domain"
)

type staticProvider struct {
	mu   sync.Mutex
	snap domain.StatusSnapshot
}

func (p *staticProvider) Snapshot() domain.StatusSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *staticProvider) set(snap domain.StatusSnapshot) {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
}

func testSnapshot() domain.StatusSnapshot {
	return domain.StatusSnapshot{
		State:          domain.StateStreaming,
		FPS:            30,
		QualityPercent: 50,
		LatencyMS:      12,
		PeerCount:      2,
		AudioEnabled:   true,
		Mode:           domain.ModeBalanced,
		RecentErrors:   []string{},
	}
}

func TestStatusEndpoint(t *testing.T) {
	p := &staticProvider{snap: testSnapshot()}
	h := NewStatusHandler(p, zap.NewNop().Sugar())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	h.Router(false).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var got domain.StatusSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 30, got.FPS)
	assert.Equal(t, 50, got.QualityPercent)
	assert.Equal(t, 2, got.PeerCount)
	assert.Equal(t, domain.StateStreaming, got.State)
}

func TestHealthEndpoint(t *testing.T) {
	p := &staticProvider{snap: testSnapshot()}
	h := NewStatusHandler(p, zap.NewNop().Sugar())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.Router(false).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsRouteMounting(t *testing.T) {
	p := &staticProvider{snap: testSnapshot()}
	h := NewStatusHandler(p, zap.NewNop().Sugar())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.Router(true).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.Router(false).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFeedPushesChanges(t *testing.T) {
	p := &staticProvider{snap: testSnapshot()}
	h := NewStatusHandler(p, zap.NewNop().Sugar())
	h.feedInterval = 10 * time.Millisecond

	srv := httptest.NewServer(h.Router(false))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first domain.StatusSnapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 30, first.FPS)

	next := testSnapshot()
	next.FPS = 45
	p.set(next)

	var second domain.StatusSnapshot
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 45, second.FPS)
}
