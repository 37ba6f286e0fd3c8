package system

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/goleak"

	"arf/internal/config"
	"arf/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// database/sql keeps a connection opener alive per pool.
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		// opencensus starts a stats worker at package init via the genai client.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// fakeModelServer speaks enough of the chat completions protocol to
// drive a full cycle. It picks its answer from the prompts it sees.
func fakeModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var system, user string
		for _, m := range req.Messages {
			switch m.Role {
			case "system":
				system = m.Content
			case "user":
				user = m.Content
			}
		}

		var reply string
		switch {
		case strings.Contains(system, "theoretical physicist"):
			reply = `{"inevitability": 0.9, "symmetry": 0.85, "parsimony": 0.8, "explanatory_power": 0.9, "rationale": "Follows directly from induction."}`
		case strings.Contains(system, "self-contained Go programs"):
			reply = "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"VERDICT: supported 0.95\")\n}\n"
		case strings.Contains(user, "Extract novel mathematical"):
			reply = "- The sum of the first n odd numbers equals n squared"
		default:
			reply = "Consolidated conversation text."
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Models = map[string]config.ModelConfig{
		"test-model": {
			Type:       "api",
			Provider:   "local",
			BaseURL:    baseURL,
			DailyLimit: 1000000,
		},
	}
	cfg.Paths.Input = filepath.Join(root, "input")
	cfg.Paths.Output = filepath.Join(root, "output")
	cfg.Paths.State = filepath.Join(root, "state")
	cfg.Paths.Datasets = filepath.Join(root, "validation_data")
	cfg.Validation.ScriptTimeout = "30s"
	cfg.Validation.RetentionDays = 1
	cfg.Scraping.Browser = false
	return cfg
}

const sampleExport = `[{
	"title": "odd numbers",
	"mapping": {
		"a": {"message": {"author": {"role": "user"}, "create_time": 1.0,
			"content": {"content_type": "text", "parts": ["What is the sum of the first n odd numbers?"]}}},
		"b": {"message": {"author": {"role": "assistant"}, "create_time": 2.0,
			"content": {"content_type": "text", "parts": ["It equals n squared, provable by induction."]}}}
	}
}]`

func TestRunCycleProcessesExportEndToEnd(t *testing.T) {
	srv := fakeModelServer(t)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	sys, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sys.Close()

	exportPath := filepath.Join(cfg.Paths.Input, "conversations.json")
	if err := os.WriteFile(exportPath, []byte(sampleExport), 0644); err != nil {
		t.Fatal(err)
	}

	if err := sys.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if !sys.Store().IsProcessed(exportPath) {
		t.Fatal("export not marked processed")
	}

	// The accepted concept landed in the framework document.
	doc, err := os.ReadFile(sys.Documents().MainDocPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(doc), "sum of the first n odd numbers") {
		t.Fatalf("concept section missing:\n%s", doc)
	}

	// The validation ran in the same cycle and produced an appendix
	// plus a summary referencing it.
	if !strings.Contains(string(doc), `\ref{appendix_`) {
		t.Fatalf("validation summary missing:\n%s", doc)
	}
	if !strings.Contains(string(doc), "VERDICT: supported") {
		t.Fatalf("verdict missing from summary:\n%s", doc)
	}

	// The evaluation was archived.
	entries, err := sys.Archive().Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].Accepted {
		t.Fatalf("archive entries: %+v", entries)
	}

	// State was checkpointed.
	if _, err := os.Stat(cfg.StatePath("system_state.json")); err != nil {
		t.Fatalf("state not saved: %v", err)
	}
}

func TestRunCycleIsIdempotentAcrossCycles(t *testing.T) {
	srv := fakeModelServer(t)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	sys, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	exportPath := filepath.Join(cfg.Paths.Input, "conversations.json")
	if err := os.WriteFile(exportPath, []byte(sampleExport), 0644); err != nil {
		t.Fatal(err)
	}

	if err := sys.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sys.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	entries, err := sys.Archive().Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("export evaluated %d times, want 1", len(entries))
	}
}

func TestShouldRunSynthesis(t *testing.T) {
	srv := fakeModelServer(t)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	sys, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	if sys.shouldRunSynthesis() {
		t.Fatal("fresh system should not synthesize")
	}

	for i := 0; i < synthesisPendingThreshold+1; i++ {
		sys.store.EnqueueValidation(state.Validation{ID: fmt.Sprint(i), Hypothesis: "h"})
	}
	if !sys.shouldRunSynthesis() {
		t.Fatal("backlog should trigger synthesis")
	}
	sys.store.TakeValidations(synthesisPendingThreshold + 1)

	sys.now = func() time.Time { return time.Now().Add(synthesisStaleAfter + time.Minute) }
	if !sys.shouldRunSynthesis() {
		t.Fatal("stale checkpoint should trigger synthesis")
	}
}

func TestSynthesisBumpsVersion(t *testing.T) {
	srv := fakeModelServer(t)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	sys, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	if err := sys.runSynthesis(context.Background()); err != nil {
		t.Fatalf("runSynthesis: %v", err)
	}
	if v := sys.store.FrameworkVersion(); v != "v1.1" {
		t.Fatalf("version=%q", v)
	}
	if _, err := os.Stat(cfg.OutputPath("Technical_Summary.md")); err != nil {
		t.Fatalf("summary not written: %v", err)
	}
}

func TestSleepDuration(t *testing.T) {
	srv := fakeModelServer(t)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	sys, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	if d := sys.sleepDuration(); d != sleepQuiet {
		t.Fatalf("quiet sleep=%v", d)
	}

	sys.store.EnqueueValidation(state.Validation{ID: "v", Hypothesis: "h"})
	if d := sys.sleepDuration(); d != sleepBusy {
		t.Fatalf("busy sleep=%v", d)
	}
	sys.store.TakeValidations(1)

	if err := sys.docs.AddComment(state.Comment{Text: "hm", Source: "web"}); err != nil {
		t.Fatal(err)
	}
	if d := sys.sleepDuration(); d != sleepActive {
		t.Fatalf("active sleep=%v", d)
	}
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	srv := fakeModelServer(t)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	sys, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sys.RunForever(ctx)
	}()

	// Let at least one cycle start, then cancel.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunForever: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("RunForever did not stop after cancel")
	}
}

func TestParseConcepts(t *testing.T) {
	output := `Here are the concepts:
- First concept
* Second concept
2. Third concept
not a list line
-  **Bolded concept**
`
	got := parseConcepts(output)
	want := []string{"First concept", "Second concept", "Third concept", "Bolded concept"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("concept %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestVerdictLine(t *testing.T) {
	out := "checking cases\nall passed\nVERDICT: supported 0.9\n"
	if got := verdictLine(out); got != "VERDICT: supported 0.9" {
		t.Fatalf("got %q", got)
	}
	if got := verdictLine("just output\n"); got != "just output" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 5) // 10 bytes, 5 runes
	got := truncate(s, 5)       // byte 5 is mid-rune
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if !strings.HasPrefix(got, "éé") || !strings.HasSuffix(got, "[truncated]") {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestIdleSleepsThroughClosedWatcher(t *testing.T) {
	events := make(chan string)
	close(events)

	start := time.Now()
	if !idle(context.Background(), 100*time.Millisecond, events) {
		t.Fatal("idle returned false without cancellation")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("idle woke after %v, before the timer fired", elapsed)
	}
}

func TestIdleWakesOnExport(t *testing.T) {
	events := make(chan string, 1)
	events <- "export.json"
	if !idle(context.Background(), time.Hour, events) {
		t.Fatal("idle returned false on export event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if idle(ctx, time.Hour, nil) {
		t.Fatal("idle returned true on cancelled context")
	}
}
