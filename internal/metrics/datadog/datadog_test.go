package datadog

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/stretchr/testify/require"

	"sucupira/internal/metrics"
)

// fakeSubmitter records every payload instead of calling the intake API.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last(t *testing.T) datadogV2.MetricPayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.payloads, "no payload submitted")
	return f.payloads[len(f.payloads)-1]
}

// newTestBackend returns a backend whose loop never ticks, so only explicit
// Flush and Close submit.
func newTestBackend(t *testing.T, fs *fakeSubmitter, opts Options) *Backend {
	t.Helper()
	opts.submitter = fs
	if opts.now == nil {
		opts.now = func() time.Time { return time.Unix(1000, 0) }
	}
	if opts.newTicker == nil {
		opts.newTicker = func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) }
	}
	b, err := NewBackend(context.Background(), opts)
	require.NoError(t, err)
	return b
}

// valueOf returns the value of the first series named metric carrying tag.
func valueOf(t *testing.T, p datadogV2.MetricPayload, metric, tag string) float64 {
	t.Helper()
	for _, s := range p.Series {
		if s.Metric != metric {
			continue
		}
		if tag == "" || contains(s.Tags, tag) {
			return *s.Points[0].Value
		}
	}
	t.Fatalf("no series %s with tag %q", metric, tag)
	return 0
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// TestResolveEnvTag verifies ENV wins over DD_ENV and blank values are ignored.
func TestResolveEnvTag(t *testing.T) {
	cases := []struct {
		env, dd, want string
	}{
		{"prod", "stage", "env:prod"},
		{"", "stage", "env:stage"},
		{"  ", "\t", "env:unknown"},
		{"", "", "env:unknown"},
	}
	for _, tc := range cases {
		t.Setenv("ENV", tc.env)
		t.Setenv("DD_ENV", tc.dd)
		require.Equal(t, tc.want, resolveEnvTag())
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	five := []float64{1, 2, 3, 4, 5}
	require.Equal(t, 0.0, percentileNearestRank(nil, 0.5))
	require.Equal(t, 7.0, percentileNearestRank([]float64{7}, 0.95))
	require.Equal(t, 1.0, percentileNearestRank(five, -1))
	require.Equal(t, 5.0, percentileNearestRank(five, 2))
	require.Equal(t, 3.0, percentileNearestRank(five, 0.5))
	require.Equal(t, 5.0, percentileNearestRank(five, 0.9))
}

// TestNewBackend_Defaults verifies the job name, flush period and extra tags.
func TestNewBackend_Defaults(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, &fakeSubmitter{}, Options{Tags: []string{"ies:ufrj"}})
	defer func() { _ = b.Close() }()

	require.Contains(t, b.baseTags, "job:sucupira")
	require.Contains(t, b.baseTags, "ies:ufrj")
	require.Equal(t, 60*time.Second, b.flushEvery)
}

// TestFlush_RunMetrics verifies a scrape's counters and page timings become
// Datadog series tagged by status, and that Flush empties the buffers.
func TestFlush_RunMetrics(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, Options{JobName: "ufrj-nightly"})
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.ProgramsTotal, 2, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.ProgramsTotal, 1, metrics.Labels{"status": "empty"})
	b.IncCounter(metrics.PagesTotal, 3, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 21, nil)
	b.IncCounter(metrics.StaleRetriesTotal, 1, metrics.Labels{"read": "table"})
	for _, d := range []float64{0.5, 0.1, 0.3} {
		b.ObserveHistogram(metrics.PageDurationSeconds, d, metrics.Labels{"status": "ok"})
	}

	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())
	require.True(t, b.buf.isEmpty())

	p := fs.last(t)
	require.Equal(t, 2.0, valueOf(t, p, seriesPrograms, "status:ok"))
	require.Equal(t, 1.0, valueOf(t, p, seriesPrograms, "status:empty"))
	require.Equal(t, 3.0, valueOf(t, p, seriesPages, "status:ok"))
	require.Equal(t, 21.0, valueOf(t, p, seriesRecords, ""))
	require.Equal(t, 1.0, valueOf(t, p, seriesStaleRetries, "read:table"))
	require.Equal(t, 0.3, valueOf(t, p, seriesPageDuration+".p50", "status:ok"))
	require.Equal(t, 0.5, valueOf(t, p, seriesPageDuration+".max", "status:ok"))
	require.Equal(t, 3.0, valueOf(t, p, seriesPageDuration+".samples", "status:ok"))

	for _, s := range p.Series {
		require.Equal(t, int64(1000), *s.Points[0].Timestamp, s.Metric)
		require.Contains(t, s.Tags, "job:ufrj-nightly", s.Metric)
	}
}

func TestFlush_NothingRecorded(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, Options{})
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Flush())
	require.Equal(t, 0, fs.count())
}

// TestFlush_SubmitErrorDropsWindow verifies delivery is best effort: a failed
// submission is reported and its window is not resent.
func TestFlush_SubmitErrorDropsWindow(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{err: errors.New("403 forbidden")}
	b := newTestBackend(t, fs, Options{})
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RecordsTotal, 4, nil)
	require.ErrorContains(t, b.Flush(), "403")
	require.True(t, b.buf.isEmpty())

	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())
}

// TestLoopAndClose verifies the ticker flushes while running and Close sends
// the tail.
func TestLoopAndClose(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	require.NoError(t, err)

	b.IncCounter(metrics.RecordsTotal, 1, nil)
	require.Eventually(t, func() bool { return fs.count() >= 1 }, time.Second, 2*time.Millisecond)

	b.IncCounter(metrics.RecordsTotal, 1, nil)
	require.NoError(t, b.Close())
	require.GreaterOrEqual(t, fs.count(), 2)
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, Options{})
	defer func() { _ = b.Close() }()

	const workers, iters = 8, 500
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iters {
				b.IncCounter(metrics.RecordsTotal, 1, nil)
				b.IncCounter(metrics.StaleRetriesTotal, 1, metrics.Labels{"read": "page_select"})
				b.ObserveHistogram(metrics.PageDurationSeconds, 0.01, metrics.Labels{"status": "ok"})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, b.Flush())
	p := fs.last(t)
	require.Equal(t, float64(workers*iters), valueOf(t, p, seriesRecords, ""))
	require.Equal(t, float64(workers*iters), valueOf(t, p, seriesPageDuration+".samples", "status:ok"))
}

// TestIgnoredObservations covers non-positive deltas, negative durations,
// unknown names, and the "unknown" default label.
func TestIgnoredObservations(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, Options{})
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RecordsTotal, 0, nil)
	b.IncCounter("unknown_total", 1, nil)
	b.ObserveHistogram("unknown_seconds", 1, nil)
	b.ObserveHistogram(metrics.PageDurationSeconds, -1, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.ProgramsTotal, 1, metrics.Labels{})
	b.ObserveHistogram(metrics.PageDurationSeconds, 0.1, nil)

	require.NoError(t, b.Flush())
	p := fs.last(t)
	// One count plus the six gauges of one histogram.
	require.Len(t, p.Series, 7)
	require.Equal(t, 1.0, valueOf(t, p, seriesPrograms, "status:unknown"))
	require.Equal(t, 0.1, valueOf(t, p, seriesPageDuration+".p99", "status:unknown"))
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	require.Nil(t, ParseTagsCSV(""))
	require.Equal(t, []string{"ies:ufrj"}, ParseTagsCSV("ies:ufrj"))
	require.Equal(t, []string{"env:prod", "ies:ufrj", "team:data"}, ParseTagsCSV(" env:prod , ,ies:ufrj,  ,team:data "))
}
