package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAcceptedAdjustsGauges(t *testing.T) {
	m := New()
	m.Accepted("create")
	m.Accepted("create")
	m.Accepted("bid")
	m.Accepted("finalize")

	check.Equal(t, 1.0, testutil.ToFloat64(m.activeAuctions))
	check.Equal(t, 1.0, testutil.ToFloat64(m.bidsCommitted))
	check.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("create")))

	m.SetActive(10)
	check.Equal(t, 10.0, testutil.ToFloat64(m.activeAuctions))
}

func TestRejectedAndRequests(t *testing.T) {
	m := New()
	m.Rejected("bid", "auction_ended")
	m.Request("submit_bid", false, 0.01)
	m.Busy()

	check.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("bid", "auction_ended")))
	check.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("submit_bid", "false")))
	check.Equal(t, 1.0, testutil.ToFloat64(m.busyRejects))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Accepted("create")
	m.Rejected("create", "x")
	m.Request("ping", true, 0)
	m.Busy()
	m.SetActive(3)
}

func TestRegistryServesCollectors(t *testing.T) {
	m := New()
	m.Accepted("bid")

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	check.True(t, strings.Contains(rec.Body.String(), "sealedbid_bids_committed_total 1"))
}
