package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestReviewCounters(t *testing.T) {
	initializeReviewMetrics()

	approved := testutil.ToFloat64(reviewsApproved)
	rejected := testutil.ToFloat64(reviewsRejected)
	cancelled := testutil.ToFloat64(rejectionsCancelled)
	applied := testutil.ToFloat64(reviewReactions.WithLabelValues("approve", "added", "applied"))

	RecordApproved()
	RecordRejected()
	RecordRejected()
	RecordRejectionCancelled()
	RecordReaction("approve", "added", "applied")

	require.InDelta(t, approved+1, testutil.ToFloat64(reviewsApproved), 0.0001)
	require.InDelta(t, rejected+2, testutil.ToFloat64(reviewsRejected), 0.0001)
	require.InDelta(t, cancelled+1, testutil.ToFloat64(rejectionsCancelled), 0.0001)
	require.InDelta(t, applied+1, testutil.ToFloat64(reviewReactions.WithLabelValues("approve", "added", "applied")), 0.0001)
}

func TestLiveReviewsGauge(t *testing.T) {
	SetLiveReviews(3)
	require.InDelta(t, 3, testutil.ToFloat64(reviewsLive), 0.0001)
	SetLiveReviews(0)
	require.InDelta(t, 0, testutil.ToFloat64(reviewsLive), 0.0001)
}

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware)
	r.HandleFunc("/review_form", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	initializeHTTPMetrics()
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/review_form", "401"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/review_form?token=secret", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/review_form", "401")), 0.0001)
	require.InDelta(t, 0, testutil.ToFloat64(HTTPActiveConnections), 0.0001)
}

func TestStartSystemMetricsRejectsBadSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, StartSystemMetrics(ctx, "not a schedule"))
	require.NoError(t, StartSystemMetrics(ctx, "@every 1h"))
}
