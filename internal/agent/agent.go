// Package agent implements the agent orchestra: role-bound agents run
// tasks sequentially, each task seeing the outputs of the tasks before it.
package agent

import (
	"fmt"
	"strings"
)

// Agent is a role-bound participant in the orchestra.
type Agent struct {
	Name      string
	Role      string
	Goal      string
	Backstory string

	// Task kind used for model routing (extraction, evaluation, ...).
	TaskKind string
}

// SystemPrompt renders the agent's persona for the LLM.
func (a *Agent) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s.\nGoal: %s\n", a.Role, a.Goal)
	if a.Backstory != "" {
		fmt.Fprintf(&b, "Background: %s\n", a.Backstory)
	}
	b.WriteString("\nProduce only the requested output, no commentary about yourself.")
	return b.String()
}

// Task is one unit of work assigned to an agent.
type Task struct {
	Description    string
	ExpectedOutput string
	Agent          *Agent
}

// TaskResult pairs a task with its output.
type TaskResult struct {
	Task   Task
	Output string
}
