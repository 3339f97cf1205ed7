package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

func TestPipeline_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := metrics.NewPipeline(reg)

	p.FetchAttempt("overpass", metrics.OutcomeRetry)
	p.FetchAttempt("overpass", metrics.OutcomeOK)
	p.CacheHit("xyz")
	p.CacheMiss("xyz")
	p.CacheMiss("xyz")
	p.FeaturesClassified("HOUSE", 3)
	p.FeaturesClassified("LAKE", 0)
	p.ObserveGenerate(time.Now(), nil)
	p.ObserveGenerate(time.Now(), errors.New("boom"))

	if n := testutil.CollectAndCount(reg, "terragrid_fetch_attempts_total"); n != 2 {
		t.Errorf("expected 2 fetch series, got %d", n)
	}
	if n := testutil.CollectAndCount(reg, "terragrid_features_classified_total"); n != 1 {
		t.Errorf("zero additions should not create a series, got %d", n)
	}
	if n := testutil.CollectAndCount(reg, "terragrid_pipeline_generate_duration_seconds"); n != 2 {
		t.Errorf("expected ok and error series, got %d", n)
	}
}

func TestPipeline_NilIsNoop(t *testing.T) {
	var p *metrics.Pipeline
	p.FetchAttempt("x", metrics.OutcomeFailed)
	p.CacheHit("x")
	p.CacheMiss("x")
	p.TileDecoded("vector")
	p.FeaturesClassified("GRASS", 1)
	p.SourceFallback("x")
	p.ObserveGenerate(time.Now(), nil)
}

func TestUpdateDBPoolMetrics(t *testing.T) {
	metrics.UpdateDBPoolMetrics(fakeStat{})
	if got := testutil.ToFloat64(metrics.DBPoolConnsOpen); got != 5 {
		t.Errorf("open conns = %v, want 5", got)
	}
	// Unknown types are ignored.
	metrics.UpdateDBPoolMetrics(42)
}

type fakeStat struct{}

func (fakeStat) AcquiredConns() int32 { return 2 }
func (fakeStat) IdleConns() int32     { return 3 }
func (fakeStat) TotalConns() int32    { return 5 }
