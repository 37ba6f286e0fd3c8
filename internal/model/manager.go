// Package model routes LLM requests to the best available model.
// API models within their daily-token and rpm limits are preferred; when
// every hosted model is exhausted the manager falls back to a local
// OpenAI-compatible endpoint. Web-type models are reached through the
// browser orchestrator, not through this manager.
package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arf/internal/config"
	"arf/internal/llm"
	"arf/internal/logging"
)

// Manager selects and caches model clients.
type Manager struct {
	configs map[string]config.ModelConfig
	tracker *Tracker

	mu       sync.Mutex
	clients  map[string]llm.Client
	requests map[string][]time.Time // rolling per-model request timestamps
	now      func() time.Time
}

// NewManager creates a model manager.
func NewManager(configs map[string]config.ModelConfig, tracker *Tracker) *Manager {
	return &Manager{
		configs:  configs,
		tracker:  tracker,
		clients:  make(map[string]llm.Client),
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Tracker returns the usage tracker.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// ClientFor returns the best available client for a task. Models whose
// preferred_tasks include the task are tried first, then the remaining
// api models in name order, then the local fallback.
func (m *Manager) ClientFor(ctx context.Context, task string) (llm.Client, error) {
	names := m.candidateOrder(task)

	var localName string
	for _, name := range names {
		mc := m.configs[name]
		if mc.Type != "api" {
			continue
		}
		if mc.Provider == "local" {
			localName = name
			continue
		}
		if !m.withinLimits(name, mc) {
			logging.ModelsWarn("model %s over limits, skipping", name)
			continue
		}
		client, err := m.clientFor(ctx, name, mc)
		if err != nil {
			logging.ModelsWarn("model %s unavailable: %v", name, err)
			continue
		}
		m.noteRequest(name)
		return client, nil
	}

	// Fallback to local model
	if localName != "" {
		logging.Models("all hosted models exhausted, falling back to %s", localName)
		client, err := m.clientFor(ctx, localName, m.configs[localName])
		if err != nil {
			return nil, fmt.Errorf("local fallback %s unavailable: %w", localName, err)
		}
		return client, nil
	}

	return nil, fmt.Errorf("no model available for task %q", task)
}

// candidateOrder returns model names with preferred-task matches first,
// alphabetical within each group for deterministic routing.
func (m *Manager) candidateOrder(task string) []string {
	var preferred, rest []string
	for name, mc := range m.configs {
		if hasTask(mc.PreferredTasks, task) {
			preferred = append(preferred, name)
		} else {
			rest = append(rest, name)
		}
	}
	sort.Strings(preferred)
	sort.Strings(rest)
	return append(preferred, rest...)
}

func hasTask(tasks []string, task string) bool {
	for _, t := range tasks {
		if t == task {
			return true
		}
	}
	return false
}

// withinLimits checks daily token budget and requests-per-minute.
func (m *Manager) withinLimits(name string, mc config.ModelConfig) bool {
	if mc.DailyLimit > 0 && m.tracker.TokensToday(name) >= mc.DailyLimit {
		return false
	}

	if mc.RPMLimit > 0 {
		m.mu.Lock()
		defer m.mu.Unlock()
		cutoff := m.now().Add(-time.Minute)
		recent := m.requests[name][:0]
		for _, ts := range m.requests[name] {
			if ts.After(cutoff) {
				recent = append(recent, ts)
			}
		}
		m.requests[name] = recent
		if len(recent) >= mc.RPMLimit {
			return false
		}
	}

	return true
}

func (m *Manager) noteRequest(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[name] = append(m.requests[name], m.now())
}

// clientFor returns a cached client or constructs one.
func (m *Manager) clientFor(ctx context.Context, name string, mc config.ModelConfig) (llm.Client, error) {
	m.mu.Lock()
	if client, ok := m.clients[name]; ok {
		m.mu.Unlock()
		return client, nil
	}
	m.mu.Unlock()

	onUsage := func(model string, u llm.Usage) {
		m.tracker.Track(model, mc.Provider, u.InputTokens, u.OutputTokens, "completion")
	}

	var client llm.Client
	var err error
	switch mc.Provider {
	case "gemini":
		client, err = llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:  mc.APIKey,
			Model:   name,
			OnUsage: onUsage,
		})
	case "openai", "local":
		client = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  mc.APIKey,
			BaseURL: mc.BaseURL,
			Model:   name,
			OnUsage: onUsage,
		})
	default:
		err = fmt.Errorf("unknown provider %q", mc.Provider)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.clients[name] = client
	m.mu.Unlock()
	return client, nil
}
