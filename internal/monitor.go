package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"text/template"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionStatusGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camera_peer_session_status",
		Help: "Current session status: 0 unconnected, 1 connecting, 2 connected, 3 error.",
	})
	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camera_peer_status_transitions_total",
		Help: "Session status transitions by resulting status.",
	}, []string{"status"})
)

const statusPage = `<!DOCTYPE html>
<html>
<head><title>camera peer</title></head>
<body>
  <h1>camera peer</h1>
  <p>session status: <b id="status">unknown</b></p>
  <script>
    const ws = new WebSocket("{{.}}");
    ws.onmessage = (msg) => {
      const m = JSON.parse(msg.data);
      if (m.event === "status") {
        document.getElementById("status").textContent = m.data;
      }
    };
  </script>
</body>
</html>
`

type statusMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// RecordingLister is the slice of the recording store the monitor needs.
type RecordingLister interface {
	List(ctx context.Context) ([]string, error)
}

// Monitor is the session's status surface: an index page, a websocket feed
// broadcasting every status transition to any number of viewers, the
// recording listing, and the prometheus exposition endpoint.
type Monitor struct {
	upgrader      websocket.Upgrader
	indexTemplate *template.Template
	recordings    RecordingLister

	listLock sync.RWMutex
	viewers  map[string]*threadSafeWriter
	status   Status

	logger *slog.Logger
}

func NewMonitor(recordings RecordingLister, logger *slog.Logger) *Monitor {
	return &Monitor{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		indexTemplate: template.Must(template.New("status").Parse(statusPage)),
		recordings:    recordings,
		viewers:       map[string]*threadSafeWriter{},
		status:        StatusUnconnected,
		logger:        logger,
	}
}

func (m *Monitor) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/status", m.websocketHandler)
	r.Get("/recordings", m.recordingList)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := m.indexTemplate.Execute(w, "ws://"+r.Host+"/status"); err != nil {
			m.logger.Error("rendering status page", "err", err)
		}
	})
}

func (m *Monitor) recordingList(w http.ResponseWriter, r *http.Request) {
	names, err := m.recordings.List(r.Context())
	if err != nil {
		m.logger.Error("listing recordings", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Recordings []string `json:"recordings"`
	}{
		Recordings: names,
	})
}

// OnStatus is the session's status handler: it records the transition and
// fans it out to every connected viewer. Writes happen outside the lock so a
// stalled viewer never delays the session.
func (m *Monitor) OnStatus(status Status) {
	sessionStatusGauge.Set(float64(status))
	statusTransitions.WithLabelValues(status.String()).Inc()

	m.listLock.Lock()
	m.status = status
	viewers := make(map[string]*threadSafeWriter, len(m.viewers))
	for id, viewer := range m.viewers {
		viewers[id] = viewer
	}
	m.listLock.Unlock()

	var dead []string
	for id, viewer := range viewers {
		if err := viewer.WriteJSON(&statusMessage{Event: "status", Data: status.String()}); err != nil {
			dead = append(dead, id)
		}
	}
	if len(dead) == 0 {
		return
	}

	m.listLock.Lock()
	for _, id := range dead {
		if viewer, ok := m.viewers[id]; ok {
			viewer.Close()
			delete(m.viewers, id)
		}
	}
	m.listLock.Unlock()
}

func (m *Monitor) websocketHandler(w http.ResponseWriter, r *http.Request) {
	unsafeConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade", "err", err)
		return
	}

	c := &threadSafeWriter{unsafeConn, sync.Mutex{}}
	id := uuid.NewString()

	m.listLock.Lock()
	current := m.status
	m.viewers[id] = c
	m.listLock.Unlock()

	// new viewers learn the current status right away
	if err := c.WriteJSON(&statusMessage{Event: "status", Data: current.String()}); err != nil {
		m.logger.Warn("writing initial status", "err", err)
	}

	// the read loop only exists to notice the viewer going away
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	m.listLock.Lock()
	delete(m.viewers, id)
	m.listLock.Unlock()
	c.Close()
}

// threadSafeWriter makes gorilla websocket writes safe across goroutines.
type threadSafeWriter struct {
	*websocket.Conn
	sync.Mutex
}

func (t *threadSafeWriter) WriteJSON(v interface{}) error {
	t.Lock()
	defer t.Unlock()

	return t.Conn.WriteJSON(v)
}
