package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bellstat/domain/stats"
	"bellstat/internal"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	ch := stats.CH()

	r.ObserveShard(stats.Permutation, ch, 50, 10*time.Millisecond)
	r.ObserveShard(stats.Permutation, ch, 50, 12*time.Millisecond)
	r.ObserveRun(stats.Permutation, ch, 98, 2, 30*time.Millisecond)
	r.ObserveRun(stats.Bootstrap, ch, 40, 0, 5*time.Millisecond)

	assert.Equal(t, 98.0, testutil.ToFloat64(r.draws.WithLabelValues("permutation", "ch")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.excluded.WithLabelValues("permutation", "ch")))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.draws.WithLabelValues("bootstrap", "ch")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.shardDuration))

	r.ObserveRadius("run01", ch, stats.ScanEntry{Radius: 10})
	r.ObserveRadius("run01", ch, stats.ScanEntry{Radius: 600, Err: "streams cannot be aligned"})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.radii.WithLabelValues("ch", "failed")))
	assert.Equal(t, 600.0, testutil.ToFloat64(r.lastRadius.WithLabelValues("run01", "ch")))
	assert.Equal(t, Progress{RadiiDone: 2, RadiiFailed: 1}, r.Progress())
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.ObserveRun(stats.Permutation, stats.CH(), 10, 0, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.draws.WithLabelValues("permutation", "ch")))
}

func TestServerRoutes(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(stats.Permutation, stats.T3(stats.RModeAny), 100, 0, time.Millisecond)
	r.ObserveRadius("run01", stats.T3(stats.RModeAny), stats.ScanEntry{Radius: 2})
	srv := httptest.NewServer(NewServer(r, internal.Discard()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `bellstat_resample_draws_total{kind="permutation",statistic="t3:any"} 100`)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health struct {
		Status    string `json:"status"`
		RadiiDone int64  `json:"radii_done"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int64(1), health.RadiiDone)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- NewServer(NewRecorder(), internal.Discard()).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
