// internal/metrics/aggregator.go
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mwiater/ragguard/internal/logging"
)

// Aggregator collects per-model call metrics. With a file path it reloads
// earlier totals and saves them every minute and on Close.
type Aggregator struct {
	mutex    sync.Mutex
	metrics  map[string]*BackendMetrics
	filePath string
	ticker   *time.Ticker
	done     chan struct{}
}

// NewAggregator creates an Aggregator. An empty filePath keeps metrics in memory.
func NewAggregator(filePath string) *Aggregator {
	agg := &Aggregator{
		metrics:  make(map[string]*BackendMetrics),
		filePath: filePath,
	}
	if filePath == "" {
		return agg
	}

	agg.load()

	ticker := time.NewTicker(1 * time.Minute)
	done := make(chan struct{})
	agg.ticker, agg.done = ticker, done
	go func() {
		for {
			select {
			case <-ticker.C:
				agg.save()
			case <-done:
				return
			}
		}
	}()

	return agg
}

func key(kind, model string) string { return kind + "/" + model }

// load reads metrics from the JSON file into memory.
func (a *Aggregator) load() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	data, err := os.ReadFile(a.filePath)
	if err != nil {
		return
	}

	var metricsSlice []*BackendMetrics
	if err := json.Unmarshal(data, &metricsSlice); err != nil {
		logging.LogEvent("[METRICS] ignoring unreadable metrics file %s: %v", a.filePath, err)
		return
	}

	for _, m := range metricsSlice {
		a.metrics[key(m.Kind, m.Model)] = m
	}
}

// save writes the current metrics from memory to the JSON file.
func (a *Aggregator) save() {
	if a.filePath == "" {
		return
	}
	data, err := json.MarshalIndent(a.Snapshot(), "", "  ")
	if err != nil {
		return
	}
	if dir := filepath.Dir(a.filePath); dir != "" && dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(a.filePath, data, 0o644); err != nil {
		logging.LogEvent("[METRICS] saving metrics to %s failed: %v", a.filePath, err)
	}
}

// Record updates the metrics for c's model.
func (a *Aggregator) Record(c Call) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	k := key(c.Kind, c.Model)
	m, exists := a.metrics[k]
	if !exists {
		m = &BackendMetrics{Model: c.Model, Kind: c.Kind}
		a.metrics[k] = m
	}
	m.LastUpdatedUTC = time.Now().UTC()

	updateStats(&m.OverallStats, c)

	bucket := getBucket(c.InputChars)
	for i := range m.PerformanceBuckets {
		if m.PerformanceBuckets[i].Bucket == bucket {
			updateStats(&m.PerformanceBuckets[i].Stats, c)
			return
		}
	}
	b := PerformanceBucket{Dimension: "input_chars", Bucket: bucket}
	updateStats(&b.Stats, c)
	m.PerformanceBuckets = append(m.PerformanceBuckets, b)
}

// Snapshot returns a copy of every model's metrics ordered by kind and model.
func (a *Aggregator) Snapshot() []BackendMetrics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	out := make([]BackendMetrics, 0, len(a.metrics))
	for _, m := range a.metrics {
		c := *m
		c.PerformanceBuckets = append([]PerformanceBucket(nil), m.PerformanceBuckets...)
		sort.Slice(c.PerformanceBuckets, func(i, j int) bool {
			return bucketOrder[c.PerformanceBuckets[i].Bucket] < bucketOrder[c.PerformanceBuckets[j].Bucket]
		})
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// updateStats folds one call into stats. Failed calls count toward the error
// totals but not toward latency or sizes.
func updateStats(stats *CallStats, c Call) {
	stats.TotalRequests++
	if c.Err != nil {
		stats.Errors++
		if errors.Is(c.Err, context.DeadlineExceeded) {
			stats.Timeouts++
		}
		return
	}
	updateRunningStat(&stats.LatencyMillis, float64(c.Latency.Milliseconds()))
	updateRunningStat(&stats.InputChars, float64(c.InputChars))
	updateRunningStat(&stats.OutputChars, float64(c.OutputChars))
}

// updateRunningStat updates a single running statistic using Welford's online algorithm.
func updateRunningStat(rs *RunningStat, value float64) {
	rs.Count++
	if rs.Count == 1 {
		rs.Min = value
		rs.Max = value
	} else {
		if value < rs.Min {
			rs.Min = value
		}
		if value > rs.Max {
			rs.Max = value
		}
	}

	delta := value - rs.Mean
	rs.Mean += delta / float64(rs.Count)
	delta2 := value - rs.Mean
	rs.M2 += delta * delta2
}

var bucketOrder = map[string]int{"0-256": 0, "257-1024": 1, "1025-4096": 2, "4097-8192": 3, "8192+": 4}

// getBucket determines the performance bucket for an input size in characters.
func getBucket(inputChars int) string {
	switch {
	case inputChars <= 256:
		return "0-256"
	case inputChars <= 1024:
		return "257-1024"
	case inputChars <= 4096:
		return "1025-4096"
	case inputChars <= 8192:
		return "4097-8192"
	default:
		return "8192+"
	}
}

// Close stops the save loop and saves the metrics.
func (a *Aggregator) Close() {
	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.done)
	a.ticker = nil
	a.save()
}
