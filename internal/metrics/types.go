// internal/metrics/types.go
package metrics

import "time"

// Kinds of backend call that are recorded.
const (
	KindGenerator = "generator"
	KindEmbedder  = "embedder"
)

// BackendMetrics is the aggregated data for one model in one role.
type BackendMetrics struct {
	Model              string              `json:"model"`
	Kind               string              `json:"kind"`
	LastUpdatedUTC     time.Time           `json:"last_updated_utc"`
	OverallStats       CallStats           `json:"overall_stats"`
	PerformanceBuckets []PerformanceBucket `json:"performance_buckets"`
}

// PerformanceBucket holds aggregated stats for one range of input size.
type PerformanceBucket struct {
	Dimension string    `json:"dimension"`
	Bucket    string    `json:"bucket"`
	Stats     CallStats `json:"stats"`
}

// CallStats stores running values for a set of backend calls.
type CallStats struct {
	TotalRequests int64 `json:"total_requests"`
	Errors        int64 `json:"errors"`
	Timeouts      int64 `json:"timeouts"`

	LatencyMillis RunningStat `json:"latency_ms"`
	InputChars    RunningStat `json:"input_chars"`
	OutputChars   RunningStat `json:"output_chars"`
}

// RunningStat holds the values for online calculation of mean and variance.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // Sum of squares of differences from the current mean
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Call describes one finished backend call.
type Call struct {
	Kind        string
	Model       string
	InputChars  int
	OutputChars int
	Latency     time.Duration
	Err         error
}
