// Package document maintains the research outputs: the LaTeX framework
// document, the markdown technical summary, validation appendices, the
// comment queue, and the questions file.
package document

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"arf/internal/agent"
	"arf/internal/logging"
	"arf/internal/state"
)

var (
	latexCommentRe = regexp.MustCompile(`(?m)^%% COMMENT: (.+)$`)
	urlRe          = regexp.MustCompile(`https?://[^\s}\\]+`)
)

// Manager owns the files under the output directory.
type Manager struct {
	outputDir string

	mainDoc     string
	summary     string
	comments    string
	questions   string
	appendixDir string
	refsFile    string
}

// NewManager creates a manager rooted at outputDir and ensures the
// layout exists. A fresh framework.tex gets a minimal preamble.
func NewManager(outputDir string) (*Manager, error) {
	m := &Manager{
		outputDir:   outputDir,
		mainDoc:     filepath.Join(outputDir, "framework.tex"),
		summary:     filepath.Join(outputDir, "Technical_Summary.md"),
		comments:    filepath.Join(outputDir, "comments.json"),
		questions:   filepath.Join(outputDir, "questions", "Questions_For_You.md"),
		appendixDir: filepath.Join(outputDir, "appendices"),
		refsFile:    filepath.Join(outputDir, "references.json"),
	}

	for _, dir := range []string{outputDir, m.appendixDir, filepath.Dir(m.questions)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(m.mainDoc); os.IsNotExist(err) {
		if err := os.WriteFile(m.mainDoc, []byte(frameworkPreamble), 0644); err != nil {
			return nil, fmt.Errorf("failed to seed framework document: %w", err)
		}
	}

	return m, nil
}

const frameworkPreamble = `\documentclass{article}
\usepackage{amsmath,amssymb,amsthm}
\usepackage{hyperref}
\title{Mathematical Research Framework}
\begin{document}
\maketitle

% Add comments for the system with lines of the form
%   %% COMMENT: your note here

`

// commentFile mirrors comments.json: the dashboard appends to pending,
// the system moves entries to processed once addressed.
type commentFile struct {
	Pending   []state.Comment `json:"pending"`
	Processed []state.Comment `json:"processed"`
}

func (m *Manager) loadComments() (*commentFile, error) {
	cf := &commentFile{}
	data, err := os.ReadFile(m.comments)
	if err != nil {
		if os.IsNotExist(err) {
			return cf, nil
		}
		return nil, fmt.Errorf("failed to read comments file: %w", err)
	}
	if err := json.Unmarshal(data, cf); err != nil {
		return nil, fmt.Errorf("failed to parse comments file: %w", err)
	}
	return cf, nil
}

func (m *Manager) saveComments(cf *commentFile) error {
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal comments: %w", err)
	}
	if err := os.WriteFile(m.comments, data, 0644); err != nil {
		return fmt.Errorf("failed to write comments file: %w", err)
	}
	return nil
}

// PendingComments gathers unaddressed comments from two sources: lines
// of the form "%% COMMENT: ..." in framework.tex and the pending list
// in comments.json.
func (m *Manager) PendingComments() ([]state.Comment, error) {
	var comments []state.Comment

	content, err := os.ReadFile(m.mainDoc)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read framework document: %w", err)
	}
	for _, match := range latexCommentRe.FindAllStringSubmatch(string(content), -1) {
		comments = append(comments, state.Comment{
			ID:        uuid.NewString(),
			Text:      strings.TrimSpace(match[1]),
			Source:    "latex",
			CreatedAt: time.Now().UTC(),
		})
	}

	cf, err := m.loadComments()
	if err != nil {
		return nil, err
	}
	comments = append(comments, cf.Pending...)

	return comments, nil
}

// AddComment queues a comment from the dashboard.
func (m *Manager) AddComment(c state.Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cf, err := m.loadComments()
	if err != nil {
		return err
	}
	cf.Pending = append(cf.Pending, c)
	return m.saveComments(cf)
}

// MarkAddressed retires a comment. JSON comments move from pending to
// processed; LaTeX comments have their marker rewritten in place so the
// same note is not picked up again next cycle.
func (m *Manager) MarkAddressed(c state.Comment) error {
	if c.Source == "latex" {
		content, err := os.ReadFile(m.mainDoc)
		if err != nil {
			return fmt.Errorf("failed to read framework document: %w", err)
		}
		updated := strings.Replace(string(content), "%% COMMENT: "+c.Text, "%% ADDRESSED: "+c.Text, 1)
		if updated != string(content) {
			if err := os.WriteFile(m.mainDoc, []byte(updated), 0644); err != nil {
				return fmt.Errorf("failed to update framework document: %w", err)
			}
		}
		return nil
	}

	cf, err := m.loadComments()
	if err != nil {
		return err
	}
	kept := cf.Pending[:0]
	for _, p := range cf.Pending {
		if p.ID == c.ID {
			cf.Processed = append(cf.Processed, p)
			continue
		}
		kept = append(kept, p)
	}
	cf.Pending = kept
	return m.saveComments(cf)
}

// RouteComment picks the agent role that should address a comment.
func RouteComment(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "validate"):
		return agent.RoleValidator
	case strings.Contains(lower, "explain"):
		return agent.RoleCommunicator
	default:
		return agent.RoleTheorist
	}
}

// AppendixData is the material for a validation appendix.
type AppendixData struct {
	Methodology string
	RawOutput   string
	Statistics  string
}

// CreateTechnicalAppendix writes appendices/appendix_<id>.tex and
// returns the label usable in \ref.
func (m *Manager) CreateTechnicalAppendix(validationID string, data AppendixData) (string, error) {
	label := "appendix_" + validationID
	path := filepath.Join(m.appendixDir, label+".tex")

	var b strings.Builder
	b.WriteString("\\appendix\n")
	fmt.Fprintf(&b, "\\section{Validation %s}\n\\label{%s}\n\n", latexEscape(validationID), label)
	fmt.Fprintf(&b, "\\subsection{Methodology}\n%s\n\n", latexEscape(data.Methodology))
	fmt.Fprintf(&b, "\\subsection{Results}\n\\begin{verbatim}\n%s\n\\end{verbatim}\n\n", data.RawOutput)
	if data.Statistics != "" {
		fmt.Fprintf(&b, "\\subsection{Statistical Analysis}\n%s\n", latexEscape(data.Statistics))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write appendix: %w", err)
	}

	logging.Document("appendix created: %s", label)
	return label, nil
}

// AddValidationSummary appends a short validation summary to the main
// document, referencing the technical appendix.
func (m *Manager) AddValidationSummary(hypothesis, summary, appendixRef string) error {
	title := hypothesis
	if len(title) > 50 {
		title = title[:50] + "..."
	}
	section := fmt.Sprintf("\n\\subsection{Validation: %s}\n%s\n\n\\textit{For technical details, see Appendix \\ref{%s}}\n",
		latexEscape(title), latexEscape(summary), appendixRef)
	return m.appendToMainDoc(section)
}

// AppendConceptSection adds an accepted concept to the main document.
func (m *Manager) AppendConceptSection(concept, explanation string, score float64) error {
	section := fmt.Sprintf("\n\\section{%s}\n%% elegance score: %.2f\n%s\n",
		latexEscape(concept), score, latexEscape(explanation))
	if err := m.appendToMainDoc(section); err != nil {
		return err
	}
	logging.Document("concept section added: %s (%.2f)", concept, score)
	return nil
}

// AddCommentResponse appends an agent's answer to a user comment.
func (m *Manager) AddCommentResponse(c state.Comment, response string) error {
	section := fmt.Sprintf("\n%% Response to comment %s\n\\subsubsection*{Re: %s}\n%s\n",
		c.ID, latexEscape(c.Text), latexEscape(response))
	if err := m.appendToMainDoc(section); err != nil {
		return err
	}
	return m.MarkAddressed(c)
}

func (m *Manager) appendToMainDoc(section string) error {
	f, err := os.OpenFile(m.mainDoc, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open framework document: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(section); err != nil {
		return fmt.Errorf("failed to append to framework document: %w", err)
	}
	return nil
}

// WriteSummary replaces Technical_Summary.md with a fresh synthesis.
func (m *Manager) WriteSummary(text string) error {
	content := fmt.Sprintf("# Technical Summary\n\n_Updated %s_\n\n%s\n",
		time.Now().UTC().Format(time.RFC3339), text)
	if err := os.WriteFile(m.summary, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// RecordQuestion appends a question for the user to the questions file.
func (m *Manager) RecordQuestion(q state.Question) error {
	f, err := os.OpenFile(m.questions, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open questions file: %w", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("## %s\n\n%s\n", q.CreatedAt.Format("2006-01-02 15:04"), q.Text)
	if q.Context != "" {
		entry += fmt.Sprintf("\n> %s\n", q.Context)
	}
	entry += "\n"
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("failed to append question: %w", err)
	}
	return nil
}

// referenceFile tracks which external URLs have been processed.
type referenceFile struct {
	Processed []string `json:"processed"`
}

// UnprocessedReferences scans the main document for URLs that have not
// been handed to the source integrator yet.
func (m *Manager) UnprocessedReferences() ([]string, error) {
	content, err := os.ReadFile(m.mainDoc)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read framework document: %w", err)
	}

	rf, err := m.loadRefs()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rf.Processed))
	for _, u := range rf.Processed {
		seen[u] = true
	}

	var urls []string
	for _, u := range urlRe.FindAllString(string(content), -1) {
		u = strings.TrimRight(u, ".,;")
		if !seen[u] {
			urls = append(urls, u)
			seen[u] = true
		}
	}
	return urls, nil
}

// MarkReferenceProcessed records a URL so it is integrated only once.
func (m *Manager) MarkReferenceProcessed(url string) error {
	rf, err := m.loadRefs()
	if err != nil {
		return err
	}
	for _, u := range rf.Processed {
		if u == url {
			return nil
		}
	}
	rf.Processed = append(rf.Processed, url)
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal references: %w", err)
	}
	if err := os.WriteFile(m.refsFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write references file: %w", err)
	}
	return nil
}

// AddExternalReference appends a digested external source to the main
// document.
func (m *Manager) AddExternalReference(url, summary string) error {
	section := fmt.Sprintf("\n\\subsection*{External source}\n%s\n\n\\url{%s}\n",
		latexEscape(summary), url)
	if err := m.appendToMainDoc(section); err != nil {
		return err
	}
	return m.MarkReferenceProcessed(url)
}

func (m *Manager) loadRefs() (*referenceFile, error) {
	rf := &referenceFile{}
	data, err := os.ReadFile(m.refsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return rf, nil
		}
		return nil, fmt.Errorf("failed to read references file: %w", err)
	}
	if err := json.Unmarshal(data, rf); err != nil {
		return nil, fmt.Errorf("failed to parse references file: %w", err)
	}
	return rf, nil
}

// MainDocPath returns the framework.tex path.
func (m *Manager) MainDocPath() string { return m.mainDoc }

// PDFPath returns where a compiled PDF would live.
func (m *Manager) PDFPath() string {
	return filepath.Join(m.outputDir, "framework.pdf")
}

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

func latexEscape(s string) string {
	return latexEscaper.Replace(s)
}
