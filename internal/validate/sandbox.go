package validate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Result captures one sandboxed script execution.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Err      string        `json:"error,omitempty"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// Execute runs a generated Go analysis script in an in-process yaegi
// interpreter. The script gets the standard library and nothing else; a
// hard timeout bounds runaway loops.
func Execute(ctx context.Context, src string, timeout time.Duration) Result {
	var stdout, stderr bytes.Buffer

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	i := interp.New(interp.Options{
		Stdout: &stdout,
		Stderr: &stderr,
		Env:    []string{}, // no host environment leaks into experiments
	})

	start := time.Now()
	res := Result{}

	if err := i.Use(stdlib.Symbols); err != nil {
		res.Err = fmt.Sprintf("interpreter setup: %v", err)
		return res
	}

	_, err := i.EvalWithContext(ctx, src)
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.Err = fmt.Sprintf("script timed out after %v", timeout)
		} else {
			res.Err = err.Error()
		}
		return res
	}

	res.Success = true
	return res
}

// stripFences removes markdown code fences an LLM may wrap a script in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	// Drop the opening fence line and a trailing fence if present.
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
