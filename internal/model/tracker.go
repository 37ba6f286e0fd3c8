package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tracker manages token usage recording and persistence.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
	now      func() time.Time
}

// NewTracker creates a usage tracker persisting under the state directory.
func NewTracker(stateDir string) (*Tracker, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	t := &Tracker{
		filePath: filepath.Join(stateDir, "model_usage.json"),
		now:      time.Now,
		data: UsageData{
			Version: "1.0",
			Aggregate: AggregatedStats{
				ByProvider:  make(map[string]TokenCounts),
				ByModel:     make(map[string]TokenCounts),
				ByOperation: make(map[string]TokenCounts),
				ByModelDay:  make(map[string]TokenCounts),
			},
		},
	}

	if err := t.Load(); err != nil {
		// Corrupt or missing usage file: continue with empty data.
		return t, nil
	}

	return t, nil
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	// Ensure maps are initialized if file was empty/partial
	if t.data.Aggregate.ByProvider == nil {
		t.data.Aggregate.ByProvider = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByModel == nil {
		t.data.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByOperation == nil {
		t.data.Aggregate.ByOperation = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByModelDay == nil {
		t.data.Aggregate.ByModelDay = make(map[string]TokenCounts)
	}

	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Track records a new usage event.
func (t *Tracker) Track(model, provider string, input, output int, operation string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(input, output)
	addToMap(t.data.Aggregate.ByProvider, provider, input, output)
	addToMap(t.data.Aggregate.ByModel, model, input, output)
	addToMap(t.data.Aggregate.ByOperation, operation, input, output)
	addToMap(t.data.Aggregate.ByModelDay, dayKey(model, t.now()), input, output)

	// Debounced auto-save
	if !t.dirty {
		t.dirty = true
		time.AfterFunc(5*time.Second, func() {
			t.Save()
			t.mu.Lock()
			t.dirty = false
			t.mu.Unlock()
		})
	}
}

// TokensToday returns the tokens consumed by a model today.
func (t *Tracker) TokensToday(model string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Aggregate.ByModelDay[dayKey(model, t.now())].Total
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	stats.ByModelDay = copyTokenCountsMap(stats.ByModelDay)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
