package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	names []string
	err   error
}

func (l *fakeLister) List(_ context.Context) ([]string, error) {
	return l.names, l.err
}

func monitorServer(t *testing.T, lister RecordingLister) (*Monitor, *httptest.Server) {
	t.Helper()
	if lister == nil {
		lister = &fakeLister{}
	}
	m := NewMonitor(lister, discardLogger())
	r := chi.NewRouter()
	m.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return m, srv
}

func TestMonitorStatusFeed(t *testing.T) {
	m, srv := monitorServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// viewers learn the current status right away
	var msg statusMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Event)
	assert.Equal(t, "unconnected", msg.Data)

	m.OnStatus(StatusConnecting)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connecting", msg.Data)

	m.OnStatus(StatusConnected)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Data)
}

func TestMonitorIndexPage(t *testing.T) {
	_, srv := monitorServer(t, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "session status")
	assert.Contains(t, string(body), "/status")
}

func TestMonitorRecordingList(t *testing.T) {
	lister := &fakeLister{names: []string{"recording-a.ivf", "recording-b.h264"}}
	_, srv := monitorServer(t, lister)

	resp, err := http.Get(srv.URL + "/recordings")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Recordings []string `json:"recordings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, lister.names, body.Recordings)
}

func TestMonitorRecordingListEmpty(t *testing.T) {
	_, srv := monitorServer(t, nil)

	resp, err := http.Get(srv.URL + "/recordings")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"recordings":[]}`, string(body))
}

func TestMonitorRecordingListFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("storage unreachable")}
	_, srv := monitorServer(t, lister)

	resp, err := http.Get(srv.URL + "/recordings")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMonitorPrunesDeadViewers(t *testing.T) {
	m, srv := monitorServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status"

	alive, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer alive.Close()

	gone, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var msg statusMessage
	require.NoError(t, alive.ReadJSON(&msg))
	require.NoError(t, gone.ReadJSON(&msg))

	// tear the second viewer's connection down under the broadcaster
	require.NoError(t, gone.Close())

	// the live viewer keeps receiving transitions while writes to the dead
	// one fail and the viewer is dropped
	for _, status := range []Status{StatusConnecting, StatusConnected, StatusConnecting, StatusConnected} {
		m.OnStatus(status)
		require.NoError(t, alive.ReadJSON(&msg))
		assert.Equal(t, status.String(), msg.Data)
	}

	assert.Eventually(t, func() bool {
		m.listLock.RLock()
		defer m.listLock.RUnlock()
		return len(m.viewers) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMonitorMetricsEndpoint(t *testing.T) {
	m, srv := monitorServer(t, nil)
	m.OnStatus(StatusConnecting)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "camera_peer_session_status")
}
