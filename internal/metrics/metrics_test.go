package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilAndNoOpManagerAreSafe(t *testing.T) {
	var nilManager *Manager
	for _, m := range []*Manager{nilManager, NoOp()} {
		assert.False(t, m.Enabled())
		assert.Nil(t, m.Registry())
		m.RecordRecall(time.Millisecond, 3)
		m.RecordConsolidation("forget", 1)
		m.RecordSync("updated", time.Second)
		m.RecordHTTPRequest("GET", "/api/health", "200", time.Millisecond)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecordConsolidation(t *testing.T) {
	m := New()

	m.RecordConsolidation("prune", 4)
	m.RecordConsolidation("prune", 2)

	body := scrape(t, m)
	assert.Contains(t, body, `memgraph_consolidation_total{action="prune"} 2`)
	assert.Contains(t, body, `memgraph_consolidation_nodes_total{action="prune"} 6`)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordRecall(5*time.Millisecond, 2)
	m.RecordSync("current", time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "memgraph_recall_total 1")
	assert.Contains(t, body, `memgraph_pack_sync_total{outcome="current"} 1`)
}
