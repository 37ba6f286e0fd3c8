package philosophy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"arf/internal/llm"
	"arf/internal/logging"
)

// Evaluation is the result of scoring a single concept.
type Evaluation struct {
	Concept   string    `json:"concept"`
	Ratings   Ratings   `json:"ratings"`
	Score     float64   `json:"score"`
	Accepted  bool      `json:"accepted"`
	Rationale string    `json:"rationale"`
	Model     string    `json:"model"`
	At        time.Time `json:"at"`
}

// Evaluator rates concepts with an LLM and folds the ratings into a
// composite elegance score.
type Evaluator struct {
	criteria Criteria
	client   llm.Client
}

// NewEvaluator creates an evaluator.
func NewEvaluator(criteria Criteria, client llm.Client) (*Evaluator, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{criteria: criteria, client: client}, nil
}

const evaluatorSystemPrompt = `You are a seasoned theoretical physicist who abhors arbitrary assumptions and seeks inevitable structures. You evaluate every idea through the lens of naturalness and elegance.

Rate the concept you are given on four axes, each from 0.0 to 1.0:
- inevitability: does it feel necessary rather than arbitrary?
- symmetry: does it respect fundamental symmetries?
- parsimony: does it make minimal assumptions?
- explanatory_power: does it unify disparate concepts?

Respond with ONLY a JSON object of the form:
{"inevitability": 0.0, "symmetry": 0.0, "parsimony": 0.0, "explanatory_power": 0.0, "rationale": "one or two sentences"}`

type ratingsResponse struct {
	Ratings
	Rationale string `json:"rationale"`
}

// Evaluate rates a concept. Malformed LLM output is retried once before
// the error is surfaced.
func (e *Evaluator) Evaluate(ctx context.Context, concept string) (*Evaluation, error) {
	if strings.TrimSpace(concept) == "" {
		return nil, fmt.Errorf("empty concept")
	}

	var parsed ratingsResponse
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		// A malformed response can half-fill the struct before the decoder
		// gives up; start each attempt clean.
		parsed = ratingsResponse{}
		raw, err := e.client.CompleteWithSystem(ctx, evaluatorSystemPrompt, concept)
		if err != nil {
			return nil, fmt.Errorf("elegance rating request failed: %w", err)
		}

		if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
			lastErr = fmt.Errorf("failed to parse ratings: %w", err)
			logging.Philosophy("malformed ratings response (attempt %d): %v", attempt+1, err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	parsed.Clamp()
	score := e.criteria.Score(parsed.Ratings)

	eval := &Evaluation{
		Concept:   concept,
		Ratings:   parsed.Ratings,
		Score:     score,
		Accepted:  e.criteria.Accepts(score),
		Rationale: parsed.Rationale,
		Model:     e.client.Model(),
		At:        time.Now().UTC(),
	}

	logging.Philosophy("evaluated concept (score=%.3f accepted=%v): %.60s", score, eval.Accepted, concept)
	return eval, nil
}

// extractJSON strips markdown fences and surrounding prose from an LLM
// response, keeping the outermost JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
