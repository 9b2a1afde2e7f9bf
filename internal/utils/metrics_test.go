package utils

import (
	"io"
	"sync"
	"testing"
	"time"
)

func TestMetricsCollectorConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.IncGauge("inflight")
			m.DecGauge("inflight")
		}()
	}
	wg.Wait()

	if got := m.GetCounterValue("hits"); got != 50 {
		t.Fatalf("hits = %d; want 50", got)
	}
	if got := m.GetGauge("inflight"); got != 0 {
		t.Fatalf("inflight = %d; want 0", got)
	}
}

func TestGenerationMetrics(t *testing.T) {
	m := NewMetricsCollector()
	gm := NewGenerationMetricsWith(m, NewLogger(io.Discard, ERROR))

	gm.RecordAsset("image", true, 10*time.Millisecond)
	gm.RecordAsset("image", false, 30*time.Millisecond)
	gm.RecordAPIRequest("/api/history", "GET", 200, time.Millisecond)
	gm.RecordReady("deadline", 15*time.Second)

	if m.GetCounterValue("asset_requests_total") != 2 {
		t.Fatalf("unexpected asset total %d", m.GetCounterValue("asset_requests_total"))
	}
	if m.GetCounterValue("asset_image_failed") != 1 || m.GetCounterValue("asset_image_succeeded") != 1 {
		t.Fatalf("unexpected split: %+v", m.GetMetrics()["counters"])
	}
	if m.GetCounterValue("api_responses_2xx") != 1 {
		t.Fatalf("status class counter not recorded: %+v", m.GetMetrics()["counters"])
	}

	hist := m.GetMetrics()["histograms"].(map[string]map[string]int64)["asset_image_latency_ms"]
	if hist["min"] != 10 || hist["max"] != 30 || hist["count"] != 2 {
		t.Fatalf("unexpected histogram %+v", hist)
	}
}
