package datadog

import (
	"context"
	"net/http"
	"os"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"mart/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
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

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()

	b, err := NewBackend(context.Background(), Options{
		JobName:    "mart1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	return b
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
//
// Edge cases:
//   - ENV wins over DD_ENV.
//   - Whitespace-only env vars are ignored.
//   - If neither is set, "env:unknown" is returned.
func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

// TestEncodeTagsCanonical verifies equal label sets always produce the
// same buffer key regardless of map iteration order.
func TestEncodeTagsCanonical(t *testing.T) {
	a := encodeTags(metrics.Labels{"stage": "load_facts", "status": "ok"})
	b := encodeTags(metrics.Labels{"status": "ok", "stage": "load_facts"})
	if a != b {
		t.Fatalf("encodeTags not canonical: %q vs %q", a, b)
	}
	if a != "stage:load_facts,status:ok" {
		t.Fatalf("encodeTags=%q", a)
	}
	if got := decodeTags(a); !reflect.DeepEqual(got, []string{"stage:load_facts", "status:ok"}) {
		t.Fatalf("decodeTags=%v", got)
	}
	if encodeTags(nil) != "" || decodeTags("") != nil {
		t.Fatalf("empty labels should round-trip to empty")
	}
}

// TestRenameMetric verifies underscore names map onto the dotted
// Datadog convention.
func TestRenameMetric(t *testing.T) {
	if got := renameMetric("mart_stage_duration_seconds"); got != "mart.stage.duration.seconds" {
		t.Fatalf("renameMetric()=%q", got)
	}
}

// TestWithTags verifies tag concatenation and immutability.
func TestWithTags(t *testing.T) {
	base := []string{"env:test", "job:mart"}
	extras := []string{"stage:load_facts", "status:ok"}
	got := withTags(base, extras...)
	want := []string{"env:test", "job:mart", "stage:load_facts", "status:ok"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	got[0] = "env:mutated"
	if base[0] == "env:mutated" {
		t.Fatalf("withTags output aliases base slice; base should not change when output is modified")
	}
}

// TestPercentileNearestRank verifies percentile behavior.
func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

// TestGaugeSeries verifies gaugeSeries timestamps and values.
func TestGaugeSeries(t *testing.T) {
	now := int64(1234567)
	s := gaugeSeries("mart.test.gauge", 3.14, []string{"env:test"}, now)

	if s.Metric != "mart.test.gauge" {
		t.Fatalf("Metric=%q, want %q", s.Metric, "mart.test.gauge")
	}
	if s.Type == nil || *s.Type != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Fatalf("Type=%v, want GAUGE", s.Type)
	}
	if len(s.Points) != 1 {
		t.Fatalf("Points.len=%d, want 1", len(s.Points))
	}
	if s.Points[0].Timestamp == nil || *s.Points[0].Timestamp != now {
		t.Fatalf("Timestamp=%v, want %d", s.Points[0].Timestamp, now)
	}
	if s.Points[0].Value == nil || *s.Points[0].Value != 3.14 {
		t.Fatalf("Value=%v, want 3.14", s.Points[0].Value)
	}
}

// TestBuildSeries verifies counter series and the six percentile gauges
// per histogram, without mutating the sample buffer.
func TestBuildSeries(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	counters := map[sampleKey]float64{
		{name: "mart.stage.total", tags: "stage:load_facts,status:ok"}: 2,
		{name: "mart.fact.rows.total", tags: ""}:                      0, // zero value skipped
	}
	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)
	samples := map[sampleKey][]float64{
		{name: "mart.stage.duration.seconds", tags: "stage:load_facts"}: in,
	}

	series := b.buildSeries(counters, samples, 999)

	// One counter survives plus p50,p90,p95,p99,max,samples.
	if len(series) != 7 {
		t.Fatalf("series.len=%d, want 7", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: got %v, want %v", in, orig)
	}

	byName := map[string]datadogV2.MetricSeries{}
	for _, s := range series {
		byName[s.Metric] = s
	}

	cs, ok := byName["mart.stage.total"]
	if !ok {
		t.Fatalf("missing counter series; got %v", series)
	}
	if cs.Type == nil || *cs.Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Fatalf("counter Type=%v, want COUNT", cs.Type)
	}
	if !contains(cs.Tags, "stage:load_facts") || !contains(cs.Tags, "status:ok") {
		t.Fatalf("counter tags=%v", cs.Tags)
	}
	if !contains(cs.Tags, "job:mart1") {
		t.Fatalf("counter missing base tags: %v", cs.Tags)
	}

	sn, ok := byName["mart.stage.duration.seconds.samples"]
	if !ok {
		t.Fatalf("missing samples gauge")
	}
	if sn.Points[0].Value == nil || *sn.Points[0].Value != 5 {
		t.Fatalf("samples gauge value=%v, want 5", sn.Points[0].Value)
	}
	mx := byName["mart.stage.duration.seconds.max"]
	if mx.Points[0].Value == nil || *mx.Points[0].Value != 5 {
		t.Fatalf("max gauge value=%v, want 5", mx.Points[0].Value)
	}
}

// TestNewBackend_Defaults verifies defaults and initialization behavior without real HTTP.
func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := Options{
		JobName:    "", // should default
		FlushEvery: 0,  // should default
		Tags:       []string{"service:mart"},
		submitter:  fs,
		now:        func() time.Time { return time.Unix(123, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v, want nil", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:mart") {
		t.Fatalf("baseTags missing job:mart: %v", b.baseTags)
	}
	if !contains(b.baseTags, "service:mart") {
		t.Fatalf("baseTags missing service:mart: %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

// TestFlush_SubmitsAndResets verifies Flush submits buffered metrics and resets buffers.
func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.MetricStageTotal, 2, metrics.Labels{"stage": "load_facts", "status": "ok"})
	b.IncCounter(metrics.MetricFactRows, 3, metrics.Labels{"outcome": "inserted"})
	b.ObserveHistogram(metrics.MetricStageDuration, 0.5, metrics.Labels{"stage": "load_facts"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}

	b.mu.Lock()
	buffered := len(b.counters) + len(b.samples)
	b.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}

	var metricNames []string
	for _, s := range payload.Series {
		metricNames = append(metricNames, s.Metric)
	}
	sort.Strings(metricNames)

	wantContains := []string{
		"mart.stage.total",
		"mart.fact.rows.total",
		"mart.stage.duration.seconds.p50",
		"mart.stage.duration.seconds.samples",
	}
	for _, w := range wantContains {
		if !contains(metricNames, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, metricNames)
		}
	}
}

// TestFlush_NoDataDoesNotSubmit verifies Flush returns nil and does not submit when empty.
func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d, want 0", fs.count())
	}
}

// TestLoopAndClose verifies the background loop flushes periodically and Close performs a final flush.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}

	b, err := NewBackend(context.Background(), Options{
		JobName:    "mart1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
		// Real ticker so loop is exercised.
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.MetricStageTotal, 1, nil)

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fs.count() >= 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	b.IncCounter(metrics.MetricStageTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}

	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
}

// TestBackend_ConcurrentAccess verifies thread-safety of buffering.
func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	iters := 2000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.MetricStageTotal, 1, metrics.Labels{"stage": "aggregate", "status": "ok"})
				b.IncCounter(metrics.MetricDimVersions, 1, metrics.Labels{"outcome": "inserted"})
				b.ObserveHistogram(metrics.MetricStageDuration, 0.01, metrics.Labels{"stage": "aggregate"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

// TestIncCounterAndObserveHistogram_EdgeCases verifies ignored paths.
func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	// Non-positive counter and negative histogram are dropped.
	b.IncCounter(metrics.MetricStageTotal, 0, nil)
	b.IncCounter(metrics.MetricStageTotal, -3, nil)
	b.ObserveHistogram(metrics.MetricStageDuration, -1, metrics.Labels{"stage": "aggregate"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("dropped samples still submitted: count=%d", fs.count())
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "empty_returns_nil",
			in:   "",
			want: nil,
		},
		{
			name: "trims_and_skips_empty_segments",
			in:   " env:prod , ,service:mart,  ,team:data ",
			want: []string{"env:prod", "service:mart", "team:data"},
		},
		{
			name: "single_tag",
			in:   "service:mart",
			want: []string{"service:mart"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ParseTagsCSV(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
