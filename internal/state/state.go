// Package state persists system state so a restart resumes from the last
// checkpoint instead of reprocessing everything.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arf/internal/logging"
)

// Validation is a pending validation experiment.
type Validation struct {
	ID         string    `json:"id"`
	Hypothesis string    `json:"hypothesis"`
	Source     string    `json:"source"` // which export/conversation produced it
	DatasetURL string    `json:"dataset_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Question is a clarification request for the user.
type Question struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a pending user comment awaiting an agent response.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Section   string    `json:"section,omitempty"`
	Source    string    `json:"source"` // latex or web
	CreatedAt time.Time `json:"created_at"`
}

// SystemState is everything needed to resume after a restart.
type SystemState struct {
	LastCheckpoint     time.Time    `json:"last_checkpoint"`
	ProcessedChats     []string     `json:"processed_chats"`
	PendingValidations []Validation `json:"pending_validations"`
	PendingQuestions   []Question   `json:"pending_questions"`
	FrameworkVersion   string       `json:"framework_version"`
	ActiveExperiments  []string     `json:"active_experiments"`
}

// Store owns the on-disk state file.
type Store struct {
	mu    sync.Mutex
	path  string
	state SystemState
}

// Open loads previous state or initializes a new one.
func Open(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	s := &Store{path: filepath.Join(stateDir, "system_state.json")}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = SystemState{
			LastCheckpoint:   time.Now().UTC(),
			FrameworkVersion: "v1.0",
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}

	logging.State("resuming from checkpoint: %s", s.state.LastCheckpoint.Format(time.RFC3339))
	return s, nil
}

// Save persists current state, updating the checkpoint time.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastCheckpoint = time.Now().UTC()
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the checkpoint.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}

	logging.State("state saved at %s", s.state.LastCheckpoint.Format(time.RFC3339))
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.state
	cp.ProcessedChats = append([]string(nil), s.state.ProcessedChats...)
	cp.PendingValidations = append([]Validation(nil), s.state.PendingValidations...)
	cp.PendingQuestions = append([]Question(nil), s.state.PendingQuestions...)
	cp.ActiveExperiments = append([]string(nil), s.state.ActiveExperiments...)
	return cp
}

// LastCheckpoint returns the last checkpoint time.
func (s *Store) LastCheckpoint() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastCheckpoint
}

// IsProcessed reports whether a chat export has already been handled.
func (s *Store) IsProcessed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.state.ProcessedChats {
		if p == path {
			return true
		}
	}
	return false
}

// MarkProcessed records a chat export as handled.
func (s *Store) MarkProcessed(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.state.ProcessedChats {
		if p == path {
			return
		}
	}
	s.state.ProcessedChats = append(s.state.ProcessedChats, path)
}

// EnqueueValidation adds a pending validation.
func (s *Store) EnqueueValidation(v Validation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PendingValidations = append(s.state.PendingValidations, v)
}

// TakeValidations removes and returns up to n pending validations.
func (s *Store) TakeValidations(n int) []Validation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.state.PendingValidations) {
		n = len(s.state.PendingValidations)
	}
	taken := append([]Validation(nil), s.state.PendingValidations[:n]...)
	s.state.PendingValidations = s.state.PendingValidations[n:]
	return taken
}

// PendingValidationCount returns the number of queued validations.
func (s *Store) PendingValidationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.PendingValidations)
}

// SetActiveExperiments records which validations are currently running,
// so a crash mid-batch is visible in the checkpoint.
func (s *Store) SetActiveExperiments(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveExperiments = append([]string(nil), ids...)
}

// AddQuestion records a question for the user.
func (s *Store) AddQuestion(q Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PendingQuestions = append(s.state.PendingQuestions, q)
}

// FrameworkVersion returns the current framework version.
func (s *Store) FrameworkVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FrameworkVersion
}

// BumpFrameworkVersion increments the minor version (v1.0 -> v1.1),
// called after each synthesis cycle.
func (s *Store) BumpFrameworkVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.state.FrameworkVersion
	var major, minor int
	if _, err := fmt.Sscanf(v, "v%d.%d", &major, &minor); err != nil {
		major, minor = 1, 0
	}
	s.state.FrameworkVersion = fmt.Sprintf("v%d.%d", major, minor+1)
	return s.state.FrameworkVersion
}
