package agent

import (
	"context"
	"fmt"
	"strings"

	"arf/internal/llm"
	"arf/internal/logging"
)

// ClientProvider supplies a client for a task kind. Satisfied by the
// model manager.
type ClientProvider interface {
	ClientFor(ctx context.Context, task string) (llm.Client, error)
}

// Orchestra runs task pipelines over a set of agents.
type Orchestra struct {
	provider ClientProvider
}

// NewOrchestra creates an orchestra backed by the given client provider.
func NewOrchestra(provider ClientProvider) *Orchestra {
	return &Orchestra{provider: provider}
}

// RunResult is the outcome of a sequential pipeline run.
type RunResult struct {
	Results []TaskResult
	// Final is the output of the last task.
	Final string
}

// Run executes tasks sequentially. Each task's prompt carries the outputs
// of all previous tasks as context; a task failure aborts the run.
func (o *Orchestra) Run(ctx context.Context, tasks []Task) (*RunResult, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks to run")
	}

	result := &RunResult{}
	for i, task := range tasks {
		if task.Agent == nil {
			return nil, fmt.Errorf("task %d has no agent", i)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		client, err := o.provider.ClientFor(ctx, task.Agent.TaskKind)
		if err != nil {
			return nil, fmt.Errorf("no client for %s: %w", task.Agent.Name, err)
		}

		logging.Agents("task %d/%d -> %s (%s)", i+1, len(tasks), task.Agent.Name, client.Model())

		prompt := o.buildPrompt(task, result.Results)
		logging.AgentsDebug("%s prompt: %d chars, %d prior results", task.Agent.Name, len(prompt), len(result.Results))

		output, err := client.CompleteWithSystem(ctx, task.Agent.SystemPrompt(), prompt)
		if err != nil {
			return nil, fmt.Errorf("task %d (%s) failed: %w", i, task.Agent.Name, err)
		}

		result.Results = append(result.Results, TaskResult{Task: task, Output: output})
		result.Final = output
	}

	return result, nil
}

func (o *Orchestra) buildPrompt(task Task, prior []TaskResult) string {
	var b strings.Builder
	b.WriteString(task.Description)
	if task.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\n\nExpected output: %s", task.ExpectedOutput)
	}
	if len(prior) > 0 {
		b.WriteString("\n\nContext from previous steps:")
		for _, r := range prior {
			fmt.Fprintf(&b, "\n\n[%s]\n%s", r.Task.Agent.Name, r.Output)
		}
	}
	return b.String()
}
