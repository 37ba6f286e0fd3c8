// Package system wires the whole framework together and drives the
// continuous research loop.
package system

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"arf/internal/agent"
	"arf/internal/browser"
	"arf/internal/config"
	"arf/internal/document"
	"arf/internal/ingest"
	"arf/internal/logging"
	"arf/internal/model"
	"arf/internal/philosophy"
	"arf/internal/sources"
	"arf/internal/state"
	"arf/internal/store"
	"arf/internal/validate"
)

// Sleep durations for the activity-based pacing of the main loop.
const (
	sleepBusy    = 5 * time.Minute  // validations pending
	sleepActive  = 10 * time.Minute // comments queued
	sleepQuiet   = 30 * time.Minute
	errorBackoff = time.Minute

	synthesisPendingThreshold = 5
	synthesisStaleAfter       = 6 * time.Hour

	maxConceptsPerConversation = 10
	maxReferencesPerCycle      = 3
	maxPromptChars             = 8000
)

// System is the assembled framework.
type System struct {
	cfg        *config.Config
	store      *state.Store
	manager    *model.Manager
	orch       *agent.Orchestra
	roles      map[string]*agent.Agent
	criteria   philosophy.Criteria
	engine     *validate.Engine
	docs       *document.Manager
	integrator sourceIntegrator
	archive    *store.Archive
	browser    *browser.Orchestrator // nil when scraping is disabled

	lastMonitor time.Time
	now         func() time.Time
}

// sourceIntegrator is the narrow surface the loop needs from the
// source integrator, swappable in tests.
type sourceIntegrator interface {
	Process(ctx context.Context, url string) (*sources.Material, error)
}

// New assembles the framework from configuration.
func New(cfg *config.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	st, err := state.Open(cfg.Paths.State)
	if err != nil {
		return nil, err
	}

	tracker, err := model.NewTracker(cfg.Paths.State)
	if err != nil {
		return nil, err
	}
	manager := model.NewManager(cfg.Models, tracker)

	criteria := philosophy.FromConfig(cfg.Philosophy)
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	engine, err := validate.NewEngine(validate.Options{
		DatasetDir:  cfg.Paths.Datasets,
		ScriptDir:   cfg.StatePath("scripts"),
		MaxParallel: cfg.Validation.MaxParallel,
		Timeout:     cfg.ScriptTimeout(),
	})
	if err != nil {
		return nil, err
	}

	docs, err := document.NewManager(cfg.Paths.Output)
	if err != nil {
		return nil, err
	}

	archive, err := store.Open(cfg.StatePath("archive.db"))
	if err != nil {
		return nil, err
	}

	roles := agent.DefaultRoles(agent.Weights{
		Inevitability:    cfg.Philosophy.Inevitability,
		Symmetry:         cfg.Philosophy.Symmetry,
		Parsimony:        cfg.Philosophy.Parsimony,
		ExplanatoryPower: cfg.Philosophy.ExplanatoryPower,
	})

	sys := &System{
		cfg:        cfg,
		store:      st,
		manager:    manager,
		orch:       agent.NewOrchestra(manager),
		roles:      roles,
		criteria:   criteria,
		engine:     engine,
		docs:       docs,
		integrator: sources.NewIntegrator(),
		archive:    archive,
		now:        time.Now,
	}

	if cfg.Scraping.Browser {
		sys.browser = browser.NewOrchestrator(browser.Config{
			Headless:  cfg.Scraping.Headless,
			SlowMo:    time.Duration(cfg.Scraping.SlowMoMs) * time.Millisecond,
			UserAgent: cfg.Scraping.UserAgent,
		})
	}

	return sys, nil
}

// Store exposes the state store (the dashboard reads it).
func (s *System) Store() *state.Store { return s.store }

// Documents exposes the document manager.
func (s *System) Documents() *document.Manager { return s.docs }

// Archive exposes the evaluation archive.
func (s *System) Archive() *store.Archive { return s.archive }

// Usage reports aggregated token usage across all models.
func (s *System) Usage() model.AggregatedStats { return s.manager.Tracker().Stats() }

// RunForever drives research cycles until the context is cancelled.
// A failed cycle saves state and backs off before retrying. A new
// export landing in the input directory cuts the idle period short.
func (s *System) RunForever(ctx context.Context) error {
	logging.Boot("continuous operation started")

	var exportEvents <-chan string
	watcher, err := ingest.NewWatcher(s.cfg.Paths.Input)
	if err != nil {
		logging.Boot("input watcher unavailable, relying on periodic scans: %v", err)
	} else {
		defer watcher.Close()
		exportEvents = watcher.Events()
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.shutdown()
		}

		if err := s.RunCycle(ctx); err != nil {
			logging.CycleError("cycle failed: %v", err)
			if saveErr := s.store.Save(); saveErr != nil {
				logging.CycleError("state save after failure: %v", saveErr)
			}
			if !idle(ctx, errorBackoff, nil) {
				return s.shutdown()
			}
			continue
		}

		d := s.sleepDuration()
		logging.Cycle("sleeping %v", d)
		if !idle(ctx, d, exportEvents) {
			return s.shutdown()
		}
	}
}

// RunCycle executes one pass of the research loop.
func (s *System) RunCycle(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryCycle, "cycle")
	defer timer.Stop()
	logging.Cycle("cycle started")

	// 1. New chat exports.
	exports, err := ingest.ScanDir(s.cfg.Paths.Input, func(path string) bool {
		return !s.store.IsProcessed(path)
	})
	if err != nil {
		return err
	}
	for _, path := range exports {
		if err := s.processExport(ctx, path); err != nil {
			logging.CycleError("export %s: %v", path, err)
			continue
		}
		s.store.MarkProcessed(path)
	}

	// 2. Active web conversations, at most once per monitoring interval.
	if s.cfg.Monitoring.ActiveChats && s.browser != nil &&
		s.now().Sub(s.lastMonitor) >= s.cfg.MonitorInterval() {
		s.lastMonitor = s.now()
		if err := s.monitorConversations(ctx); err != nil {
			logging.CycleError("conversation monitoring: %v", err)
		}
	}

	// 3. Pending validations.
	if s.store.PendingValidationCount() > 0 {
		if err := s.runValidations(ctx); err != nil {
			logging.CycleError("validations: %v", err)
		}
	}

	// 4. Document comments.
	if err := s.processComments(ctx); err != nil {
		logging.CycleError("comments: %v", err)
	}

	// 5. External references.
	if err := s.processReferences(ctx); err != nil {
		logging.CycleError("references: %v", err)
	}

	// 6. Synthesis when enough material accumulated.
	if s.shouldRunSynthesis() {
		if err := s.runSynthesis(ctx); err != nil {
			logging.CycleError("synthesis: %v", err)
		}
	}

	// 7. Checkpoint.
	return s.store.Save()
}

// processExport runs one export file through the full agent pipeline.
func (s *System) processExport(ctx context.Context, path string) error {
	conversations, err := ingest.ParseExport(path)
	if err != nil {
		return err
	}

	for _, conv := range conversations {
		if err := s.processConversation(ctx, conv.Text(), path); err != nil {
			return err
		}
	}
	return nil
}

// processConversation distills a conversation into evaluated concepts.
func (s *System) processConversation(ctx context.Context, text, source string) error {
	tasks := []agent.Task{
		{
			Description: "Consolidate this conversation into a clean chronological record, " +
				"dropping small talk and keeping the mathematical content:\n\n" + truncate(text, maxPromptChars),
			ExpectedOutput: "Chronologically ordered conversation text",
			Agent:          s.roles[agent.RoleArchivist],
		},
		{
			Description: "Extract novel mathematical definitions, hypotheses, and potential " +
				"breakthroughs from the conversation. List one concept per line, " +
				"each starting with \"- \".",
			ExpectedOutput: "Structured list of concepts with categories",
			Agent:          s.roles[agent.RoleAnalyst],
		},
	}

	result, err := s.orch.Run(ctx, tasks)
	if err != nil {
		return err
	}

	concepts := parseConcepts(result.Final)
	if len(concepts) > maxConceptsPerConversation {
		concepts = concepts[:maxConceptsPerConversation]
	}
	logging.Agents("%d concepts extracted from %s", len(concepts), source)

	client, err := s.manager.ClientFor(ctx, "evaluation")
	if err != nil {
		return err
	}
	evaluator, err := philosophy.NewEvaluator(s.criteria, client)
	if err != nil {
		return err
	}

	for _, concept := range concepts {
		ev, err := evaluator.Evaluate(ctx, concept)
		if err != nil {
			logging.CycleError("evaluation of %.40q: %v", concept, err)
			continue
		}
		if err := s.archive.Record(ctx, ev, source); err != nil {
			logging.CycleError("archive: %v", err)
		}
		if !ev.Accepted {
			continue
		}

		if err := s.docs.AppendConceptSection(ev.Concept, ev.Rationale, ev.Score); err != nil {
			return err
		}
		s.store.EnqueueValidation(state.Validation{
			ID:         uuid.NewString(),
			Hypothesis: ev.Concept,
			Source:     source,
			CreatedAt:  s.now().UTC(),
		})
	}
	return nil
}

// monitorConversations pulls new messages from the web sessions and
// runs them through the same concept pipeline.
func (s *System) monitorConversations(ctx context.Context) error {
	if !s.browser.IsAuthenticated(browser.ServiceChatGPT) {
		logging.Browser("chatgpt session not authenticated, skipping monitoring")
		return nil
	}

	since := s.store.LastCheckpoint()
	msgs, err := s.browser.CheckUpdates(browser.ServiceChatGPT, since)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n\n", m.Role, m.Text)
	}
	return s.processConversation(ctx, b.String(), "web:chatgpt")
}

// runValidations takes a bounded batch off the queue and turns each
// outcome into an appendix plus a summary in the main document.
func (s *System) runValidations(ctx context.Context) error {
	batch := s.store.TakeValidations(s.cfg.Validation.MaxParallel)
	if len(batch) == 0 {
		return nil
	}
	logging.Validation("running %d validations", len(batch))

	client, err := s.manager.ClientFor(ctx, "validation")
	if err != nil {
		// Nothing ran; put the batch back.
		for _, v := range batch {
			s.store.EnqueueValidation(v)
		}
		return err
	}

	ids := make([]string, len(batch))
	for i, v := range batch {
		ids[i] = v.ID
	}
	s.store.SetActiveExperiments(ids)
	defer s.store.SetActiveExperiments(nil)

	outcomes := s.engine.RunBatch(ctx, client, batch)
	for _, o := range outcomes {
		if !o.Result.Success {
			logging.ValidationError("validation %s failed: %s", o.Validation.ID, o.Result.Err)
			q := state.Question{
				ID:        uuid.NewString(),
				Text:      "A validation experiment failed: " + o.Validation.Hypothesis,
				Context:   o.Result.Err,
				CreatedAt: s.now().UTC(),
			}
			s.store.AddQuestion(q)
			if err := s.docs.RecordQuestion(q); err != nil {
				logging.CycleError("recording question: %v", err)
			}
			continue
		}

		ref, err := s.docs.CreateTechnicalAppendix(o.Validation.ID, document.AppendixData{
			Methodology: "Generated analysis script executed in the validation sandbox.",
			RawOutput:   o.Result.Stdout,
		})
		if err != nil {
			return err
		}
		if err := s.docs.AddValidationSummary(o.Validation.Hypothesis, verdictLine(o.Result.Stdout), ref); err != nil {
			return err
		}
	}
	return nil
}

// processComments routes each pending comment to the right agent and
// writes the response into the document.
func (s *System) processComments(ctx context.Context) error {
	comments, err := s.docs.PendingComments()
	if err != nil {
		return err
	}

	for _, c := range comments {
		role := document.RouteComment(c.Text)
		result, err := s.orch.Run(ctx, []agent.Task{{
			Description:    "Address this reader comment on the research document: " + c.Text,
			ExpectedOutput: "Response to user comment",
			Agent:          s.roles[role],
		}})
		if err != nil {
			logging.CycleError("comment %s: %v", c.ID, err)
			continue
		}
		if err := s.docs.AddCommentResponse(c, result.Final); err != nil {
			return err
		}
		logging.Document("comment %s answered by %s", c.ID, role)
	}
	return nil
}

// processReferences integrates external sources cited in the document.
func (s *System) processReferences(ctx context.Context) error {
	refs, err := s.docs.UnprocessedReferences()
	if err != nil {
		return err
	}
	if len(refs) > maxReferencesPerCycle {
		refs = refs[:maxReferencesPerCycle]
	}

	for _, url := range refs {
		mat, err := s.integrator.Process(ctx, url)
		if err != nil {
			logging.Sources("reference %s skipped: %v", url, err)
			// A dead link stays dead; do not retry every cycle.
			if markErr := s.docs.MarkReferenceProcessed(url); markErr != nil {
				return markErr
			}
			continue
		}

		summary, err := s.summarize(ctx, mat.Title, mat.Content)
		if err != nil {
			logging.CycleError("summarizing %s: %v", url, err)
			continue
		}
		if err := s.docs.AddExternalReference(url, summary); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) summarize(ctx context.Context, title, content string) (string, error) {
	prompt := fmt.Sprintf("Summarize the following source in 3-5 sentences, focusing on "+
		"material relevant to an ongoing mathematical research framework.\n\nTitle: %s\n\n%s",
		title, truncate(content, maxPromptChars))

	client, err := s.manager.ClientFor(ctx, "summarization")
	if err != nil {
		// API budgets exhausted; a logged-in web session can still answer.
		if s.browser != nil {
			return s.browser.Ask(browser.ServiceChatGPT, prompt)
		}
		return "", err
	}
	return client.Complete(ctx, prompt)
}

// shouldRunSynthesis reports whether enough material accumulated for a
// framework-wide consistency pass.
func (s *System) shouldRunSynthesis() bool {
	if s.store.PendingValidationCount() > synthesisPendingThreshold {
		return true
	}
	return s.now().Sub(s.store.LastCheckpoint()) > synthesisStaleAfter
}

// runSynthesis reviews the whole framework and bumps its version.
func (s *System) runSynthesis(ctx context.Context) error {
	logging.Cycle("running framework synthesis")

	review := "Review the entire framework for consistency and elegance."
	if accepted, err := s.archive.Accepted(ctx); err == nil && len(accepted) > 0 {
		var b strings.Builder
		b.WriteString(review)
		b.WriteString("\nAccepted concepts so far:")
		for _, e := range accepted {
			fmt.Fprintf(&b, "\n- %s (score %.2f)", e.Concept, e.Score)
		}
		review = b.String()
	}

	tasks := []agent.Task{
		{
			Description:    review,
			ExpectedOutput: "Synthesis report with refinements",
			Agent:          s.roles[agent.RoleTheorist],
		},
		{
			Description:    "Create an intuitive narrative of the framework's current state",
			ExpectedOutput: "Clear framework overview",
			Agent:          s.roles[agent.RoleCommunicator],
		},
		{
			Description:    "Update the master documentation",
			ExpectedOutput: "Updated framework document",
			Agent:          s.roles[agent.RoleScribe],
		},
	}

	result, err := s.orch.Run(ctx, tasks)
	if err != nil {
		return err
	}
	if len(result.Results) >= 2 {
		if err := s.docs.WriteSummary(result.Results[1].Output); err != nil {
			return err
		}
	}

	v := s.store.BumpFrameworkVersion()
	logging.Cycle("framework advanced to %s", v)
	return nil
}

// sleepDuration picks the idle period from current activity.
func (s *System) sleepDuration() time.Duration {
	if s.store.PendingValidationCount() > 0 {
		return sleepBusy
	}
	if comments, err := s.docs.PendingComments(); err == nil && len(comments) > 0 {
		return sleepActive
	}
	return sleepQuiet
}

// shutdown saves state and releases resources.
func (s *System) shutdown() error {
	logging.Boot("shutting down")

	var firstErr error
	if err := s.store.Save(); err != nil {
		firstErr = err
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.engine.Cleanup(time.Duration(s.cfg.Validation.RetentionDays) * 24 * time.Hour); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.manager.Tracker().Save(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.archive.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases resources without waiting for the loop.
func (s *System) Close() error {
	return s.shutdown()
}

// idle waits for the duration, a new export, or cancellation. Returns
// false when the context ended.
func idle(ctx context.Context, d time.Duration, exportEvents <-chan string) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case path, ok := <-exportEvents:
			if !ok {
				// Watcher gone; sleep out the timer instead of spinning.
				exportEvents = nil
				continue
			}
			logging.Cycle("new export %s, waking early", path)
			return true
		}
	}
}

var conceptLineRe = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+(.+)$`)

// parseConcepts pulls list items out of the analyst's output.
func parseConcepts(output string) []string {
	var concepts []string
	for _, line := range strings.Split(output, "\n") {
		m := conceptLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		concept := strings.Trim(strings.TrimSpace(m[1]), "*_`")
		if concept != "" {
			concepts = append(concepts, concept)
		}
	}
	return concepts
}

// verdictLine extracts the script's final VERDICT line, falling back to
// the output tail.
func verdictLine(stdout string) string {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "VERDICT:") {
			return lines[i]
		}
	}
	if len(lines) == 0 {
		return "Experiment produced no output."
	}
	return lines[len(lines)-1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the cut never yields invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n[truncated]"
}
