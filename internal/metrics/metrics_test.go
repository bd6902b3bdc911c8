package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurn(t *testing.T) {
	m := New()
	m.Turn("idle", ResultOK, 10*time.Millisecond)
	m.Turn("idle", ResultOK, 10*time.Millisecond)
	m.Turn("awaiting_confirmation", ResultReprompt, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("idle", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("awaiting_confirmation", ResultReprompt)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.turnDuration))
}

func TestCommit(t *testing.T) {
	m := New()
	m.Commit("stock", nil)
	m.Commit("stock", errors.New("boom"))
	m.Commit("order", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("stock", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("stock", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("order", ResultOK)))
}

func TestCounters(t *testing.T) {
	m := New()
	m.Error("PERSISTENCE_UNAVAILABLE")
	m.Error("")
	m.Expired()
	m.Swept(3)
	m.Swept(0)
	m.QueueDelta(2)
	m.QueueDelta(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("PERSISTENCE_UNAVAILABLE")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.errors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expired))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queued))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Turn("idle", ResultOK, time.Second)
		m.Commit("stock", nil)
		m.Error("NOT_FOUND")
		m.Expired()
		m.Swept(1)
		m.QueueDelta(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Commit("order", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `stockline_commits_total{kind="order",result="ok"} 1`), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
