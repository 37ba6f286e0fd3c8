// Package validate runs computational experiments against hypotheses:
// datasets are fetched and cached, an LLM writes a Go analysis script,
// and the script runs in an in-process interpreter under a timeout.
package validate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"arf/internal/llm"
	"arf/internal/logging"
	"arf/internal/state"
)

// Engine downloads datasets, generates scripts, and executes them.
type Engine struct {
	datasetDir  string
	scriptDir   string
	maxParallel int64
	timeout     time.Duration
	httpClient  *http.Client

	mu sync.Mutex // serializes script file naming
}

// Options configures an Engine.
type Options struct {
	DatasetDir  string
	ScriptDir   string
	MaxParallel int
	Timeout     time.Duration
}

// NewEngine creates a validation engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 3
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	for _, dir := range []string{opts.DatasetDir, opts.ScriptDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Engine{
		datasetDir:  opts.DatasetDir,
		scriptDir:   opts.ScriptDir,
		maxParallel: int64(opts.MaxParallel),
		timeout:     opts.Timeout,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// DownloadDataset fetches a CSV by URL and caches it under the dataset
// directory. A cached copy is reused.
func (e *Engine) DownloadDataset(ctx context.Context, name, url string) (string, error) {
	cachePath := filepath.Join(e.datasetDir, sanitizeName(name))
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	logging.Validation("downloading dataset %s from %s", name, url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("dataset download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dataset download failed with status %d", resp.StatusCode)
	}

	tmp := cachePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write dataset: %w", err)
	}
	f.Close()
	if err := os.Rename(tmp, cachePath); err != nil {
		return "", fmt.Errorf("failed to finalize dataset: %w", err)
	}

	return cachePath, nil
}

const scriptSystemPrompt = `You write small, self-contained Go programs that test mathematical hypotheses numerically.

Rules:
- Output ONLY Go source, no markdown fences, no prose.
- The program must be a complete file with package main and func main.
- Use only the Go standard library (fmt, math, encoding/csv, os, sort, strconv).
- Print findings and a final line of the form VERDICT: supported|refuted|inconclusive followed by a confidence in [0,1].`

// GenerateScript asks the LLM for a Go analysis script testing the
// hypothesis. The script is persisted for audit and returned as source.
func (e *Engine) GenerateScript(ctx context.Context, client llm.Client, v state.Validation, datasets []string) (string, string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Hypothesis: %s\n", v.Hypothesis)
	if len(datasets) > 0 {
		prompt.WriteString("Datasets available as CSV files at these paths:\n")
		for _, d := range datasets {
			fmt.Fprintf(&prompt, "- %s\n", d)
		}
	} else {
		prompt.WriteString("No dataset is available; generate the data you need analytically.\n")
	}

	src, err := client.CompleteWithSystem(ctx, scriptSystemPrompt, prompt.String())
	if err != nil {
		return "", "", fmt.Errorf("script generation failed: %w", err)
	}
	src = stripFences(src)
	if !strings.Contains(src, "package main") {
		return "", "", fmt.Errorf("generated script is not a complete program")
	}

	e.mu.Lock()
	scriptPath := filepath.Join(e.scriptDir, fmt.Sprintf("validate_%s_%s.go", sanitizeName(v.ID), time.Now().Format("20060102_150405")))
	e.mu.Unlock()
	if err := os.WriteFile(scriptPath, []byte(src), 0644); err != nil {
		return "", "", fmt.Errorf("failed to persist script: %w", err)
	}

	return src, scriptPath, nil
}

// Outcome is a validation plus its execution result.
type Outcome struct {
	Validation state.Validation
	ScriptPath string
	Result     Result
}

// RunBatch executes validations concurrently, at most maxParallel at a
// time. Per-validation failures are recorded in the outcome, not
// returned: one broken experiment must not sink the batch.
func (e *Engine) RunBatch(ctx context.Context, client llm.Client, validations []state.Validation) []Outcome {
	sem := semaphore.NewWeighted(e.maxParallel)
	outcomes := make([]Outcome, len(validations))

	g, ctx := errgroup.WithContext(ctx)
	for idx, v := range validations {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[idx] = Outcome{Validation: v, Result: Result{Err: err.Error()}}
				return nil
			}
			defer sem.Release(1)

			outcomes[idx] = e.runOne(ctx, client, v)
			return nil
		})
	}
	g.Wait()

	return outcomes
}

func (e *Engine) runOne(ctx context.Context, client llm.Client, v state.Validation) Outcome {
	timer := logging.StartTimer(logging.CategoryValidation, "validation "+v.ID)
	defer timer.StopWithThreshold(e.timeout)

	var datasets []string
	if v.DatasetURL != "" {
		path, err := e.DownloadDataset(ctx, v.ID+".csv", v.DatasetURL)
		if err != nil {
			logging.ValidationError("validation %s: dataset: %v", v.ID, err)
			return Outcome{Validation: v, Result: Result{Err: err.Error()}}
		}
		datasets = append(datasets, path)
	}

	src, scriptPath, err := e.GenerateScript(ctx, client, v, datasets)
	if err != nil {
		logging.ValidationError("validation %s: %v", v.ID, err)
		return Outcome{Validation: v, Result: Result{Err: err.Error()}}
	}

	result := Execute(ctx, src, e.timeout)
	logging.Validation("validation %s finished: success=%v", v.ID, result.Success)
	return Outcome{Validation: v, ScriptPath: scriptPath, Result: result}
}

// Cleanup removes cached datasets and scripts older than the retention
// window.
func (e *Engine) Cleanup(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	for _, dir := range []string{e.datasetDir, e.scriptDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				os.Remove(filepath.Join(dir, entry.Name()))
			}
		}
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
