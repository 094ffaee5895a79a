package evaluation

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mwiater/ragguard/internal/logging"
)

const recentLimit = 10

// DistributionBuckets are the overall-score ranges reported by Metrics.
var DistributionBuckets = []string{"0.0-0.2", "0.2-0.4", "0.4-0.6", "0.6-0.8", "0.8-1.0"}

// RunningStat tracks count, mean, and spread with Welford's online algorithm.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// StdDev returns the sample standard deviation.
func (rs RunningStat) StdDev() float64 {
	if rs.Count < 2 {
		return 0
	}
	return math.Sqrt(rs.M2 / float64(rs.Count-1))
}

func (rs *RunningStat) add(value float64) {
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

// RecentEvaluation is the short form of a record kept for the metrics view.
type RecentEvaluation struct {
	Query        string    `json:"query"`
	OverallScore float64   `json:"overall_score"`
	Method       string    `json:"evaluation_method"`
	Timestamp    time.Time `json:"timestamp"`
}

// Metrics is a point-in-time summary of the history.
type Metrics struct {
	TotalEvaluations  int64                 `json:"total_evaluations"`
	AverageScores     map[Dimension]float64 `json:"average_scores"`
	AverageOverall    float64               `json:"average_overall"`
	ScoreDistribution map[string]int64      `json:"score_distribution"`
	RecentEvaluations []RecentEvaluation    `json:"recent_evaluations"`
	LastUpdated       time.Time             `json:"last_updated"`
}

type historyState struct {
	Total        int64                      `json:"total"`
	Dimensions   map[Dimension]*RunningStat `json:"dimensions"`
	Overall      RunningStat                `json:"overall"`
	Distribution map[string]int64           `json:"distribution"`
	Recent       []RecentEvaluation         `json:"recent"`
	LastUpdated  time.Time                  `json:"last_updated"`
}

// History aggregates every evaluation the service produces. When given a
// file path it loads previous totals and saves them every minute and on Close.
type History struct {
	mutex    sync.Mutex
	state    historyState
	filePath string
	ticker   *time.Ticker
	done     chan struct{}
}

// NewHistory returns a History. An empty filePath keeps it in memory only.
func NewHistory(filePath string) *History {
	h := &History{filePath: filePath, state: newHistoryState()}
	if filePath == "" {
		return h
	}

	h.load()
	ticker := time.NewTicker(1 * time.Minute)
	done := make(chan struct{})
	h.ticker, h.done = ticker, done
	go func() {
		for {
			select {
			case <-ticker.C:
				h.save()
			case <-done:
				return
			}
		}
	}()
	return h
}

func newHistoryState() historyState {
	return historyState{
		Dimensions:   make(map[Dimension]*RunningStat),
		Distribution: make(map[string]int64),
	}
}

func (h *History) load() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	data, err := os.ReadFile(h.filePath)
	if err != nil {
		return
	}
	state := newHistoryState()
	if err := json.Unmarshal(data, &state); err != nil {
		logging.LogEvent("[EVAL] ignoring unreadable history %s: %v", h.filePath, err)
		return
	}
	if state.Dimensions == nil {
		state.Dimensions = make(map[Dimension]*RunningStat)
	}
	if state.Distribution == nil {
		state.Distribution = make(map[string]int64)
	}
	h.state = state
}

func (h *History) save() {
	if h.filePath == "" {
		return
	}
	h.mutex.Lock()
	data, err := json.MarshalIndent(h.state, "", "  ")
	h.mutex.Unlock()
	if err != nil {
		return
	}

	if dir := filepath.Dir(h.filePath); dir != "" && dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(h.filePath, data, 0o644); err != nil {
		logging.LogEvent("[EVAL] saving history to %s failed: %v", h.filePath, err)
	}
}

// Record adds rec to the running totals.
func (h *History) Record(rec Record) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.state.Total++
	for d, score := range rec.Scores {
		stat, ok := h.state.Dimensions[d]
		if !ok {
			stat = &RunningStat{}
			h.state.Dimensions[d] = stat
		}
		stat.add(score)
	}
	h.state.Overall.add(rec.OverallScore)
	h.state.Distribution[bucketFor(rec.OverallScore)]++

	recent := RecentEvaluation{
		Query:        truncateQuery(rec.Query),
		OverallScore: rec.OverallScore,
		Method:       rec.Method,
		Timestamp:    rec.Timestamp,
	}
	h.state.Recent = append([]RecentEvaluation{recent}, h.state.Recent...)
	if len(h.state.Recent) > recentLimit {
		h.state.Recent = h.state.Recent[:recentLimit]
	}
	h.state.LastUpdated = time.Now().UTC()
}

// Metrics summarizes the history.
func (h *History) Metrics() Metrics {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	m := Metrics{
		TotalEvaluations:  h.state.Total,
		AverageScores:     make(map[Dimension]float64, len(Dimensions)),
		AverageOverall:    round3(h.state.Overall.Mean),
		ScoreDistribution: make(map[string]int64, len(DistributionBuckets)),
		RecentEvaluations: append([]RecentEvaluation{}, h.state.Recent...),
		LastUpdated:       h.state.LastUpdated,
	}
	for _, d := range Dimensions {
		if stat, ok := h.state.Dimensions[d]; ok {
			m.AverageScores[d] = round3(stat.Mean)
		} else {
			m.AverageScores[d] = 0
		}
	}
	for _, b := range DistributionBuckets {
		m.ScoreDistribution[b] = h.state.Distribution[b]
	}
	return m
}

// Close stops the save loop and writes the history one last time.
func (h *History) Close() {
	if h.ticker == nil {
		return
	}
	h.ticker.Stop()
	close(h.done)
	h.ticker = nil
	h.save()
}

func bucketFor(score float64) string {
	switch {
	case score < 0.2:
		return DistributionBuckets[0]
	case score < 0.4:
		return DistributionBuckets[1]
	case score < 0.6:
		return DistributionBuckets[2]
	case score < 0.8:
		return DistributionBuckets[3]
	default:
		return DistributionBuckets[4]
	}
}

func truncateQuery(q string) string {
	runes := []rune(q)
	if len(runes) <= 100 {
		return q
	}
	return string(runes[:100]) + "..."
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
