package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"manualpilot/experiment/internal/command"
	"manualpilot/experiment/internal/session"
)

func TestNilCollector(t *testing.T) {
	var c *Collector

	c.SetState(session.Waiting)
	c.Command(command.StartGame)
	c.Frame()
	c.Ping()
	c.Timeout()
	c.Restart()
	c.StreamError("signal")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCollectorCounts(t *testing.T) {
	c := New("controller")

	c.SetState(session.Progressing)
	c.Command(command.KeyInput)
	c.Command(command.KeyInput)
	c.Frame()
	c.StreamError("sync")

	if got := testutil.ToFloat64(c.state); got != float64(session.Progressing) {
		t.Errorf("state = %v", got)
	}

	if got := testutil.ToFloat64(c.commands.WithLabelValues("KeyInput")); got != 2 {
		t.Errorf("KeyInput commands = %v", got)
	}

	if got := testutil.ToFloat64(c.streamErrors.WithLabelValues("sync")); got != 1 {
		t.Errorf("sync errors = %v", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	c := New("participant")
	c.Ping()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(b), `experiment_liveness_pings_total{role="participant"} 1`) {
		t.Errorf("exposition missing ping counter:\n%s", b)
	}
}
