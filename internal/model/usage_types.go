package model

import "time"

// UsageData is the root structure persisted to disk.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds counters broken down by various dimensions.
type AggregatedStats struct {
	Total       TokenCounts            `json:"total"`
	ByProvider  map[string]TokenCounts `json:"by_provider"`
	ByModel     map[string]TokenCounts `json:"by_model"`
	ByOperation map[string]TokenCounts `json:"by_operation"` // extraction, evaluation, synthesis, ...
	ByModelDay  map[string]TokenCounts `json:"by_model_day"` // "<model>|<yyyy-mm-dd>", for daily limits
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Add accumulates a usage event.
func (tc *TokenCounts) Add(input, output int) {
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
}

func dayKey(model string, at time.Time) string {
	return model + "|" + at.UTC().Format("2006-01-02")
}
