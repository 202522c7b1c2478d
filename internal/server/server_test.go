package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hnap/internal/server"
	"github.com/jmerrifield20/hnap/internal/watch"
)

// ── Stub state source ────────────────────────────────────────────────────

type stubSource struct {
	snaps []watch.Snapshot
}

func (s *stubSource) Snapshots() []watch.Snapshot { return s.snaps }

func (s *stubSource) Snapshot(name string) (watch.Snapshot, bool) {
	for _, snap := range s.snaps {
		if snap.Sensor == name {
			return snap, true
		}
	}
	return watch.Snapshot{}, false
}

func setupRouter(t *testing.T, cfg server.Config) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	src := &stubSource{snaps: []watch.Snapshot{
		{Sensor: "hall", On: true, LastTrigger: time.Unix(1700000000, 0).UTC(), Polls: 3},
		{Sensor: "basement"},
	}}
	return server.New(cfg, src, zap.NewNop()).Handler()
}

func get(h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	w := get(setupRouter(t, server.Config{}), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListSensors(t *testing.T) {
	w := get(setupRouter(t, server.Config{}), "/api/v1/sensors")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Sensors []watch.Snapshot `json:"sensors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sensors) != 2 || resp.Sensors[0].Sensor != "hall" || !resp.Sensors[0].On {
		t.Errorf("unexpected sensors %+v", resp.Sensors)
	}
}

func TestGetSensor(t *testing.T) {
	h := setupRouter(t, server.Config{})

	w := get(h, "/api/v1/sensors/hall")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap watch.Snapshot
	json.Unmarshal(w.Body.Bytes(), &snap) //nolint:errcheck
	if snap.Polls != 3 || !snap.LastTrigger.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if w := get(h, "/api/v1/sensors/attic"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, server.Config{})
	get(h, "/healthz")

	w := get(h, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hnap_http_requests_total") {
		t.Error("expected status API request counter in metrics output")
	}
}

func TestRateLimit(t *testing.T) {
	h := setupRouter(t, server.Config{RateLimitRPS: 1})

	var limited bool
	for i := 0; i < 5; i++ {
		if w := get(h, "/healthz"); w.Code == http.StatusTooManyRequests {
			limited = true
			if w.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
			break
		}
	}
	if !limited {
		t.Error("expected a 429 after the burst")
	}
}

func TestCORS(t *testing.T) {
	h := setupRouter(t, server.Config{CORSOrigins: []string{"http://dashboard.local"}})

	w := get(h, "/api/v1/sensors", "Origin", "http://dashboard.local")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("Access-Control-Allow-Origin: got %q", got)
	}
}
