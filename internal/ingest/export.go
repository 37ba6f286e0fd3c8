// Package ingest parses ChatGPT conversation exports and watches the
// input directory for new ones.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arf/internal/logging"
)

// Message is a single utterance in chronological order.
type Message struct {
	Role       string  `json:"role"`
	Text       string  `json:"text"`
	CreateTime float64 `json:"create_time"`
}

// Conversation is one exported conversation flattened into ordered text.
type Conversation struct {
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// Text renders the conversation as role-prefixed lines for agent input.
func (c Conversation) Text() string {
	var b strings.Builder
	for _, m := range c.Messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Wire format of a ChatGPT export: a list of conversations, each holding a
// node mapping keyed by id. Only fields we consume are declared.
type exportConversation struct {
	Title   string                `json:"title"`
	Mapping map[string]exportNode `json:"mapping"`
}

type exportNode struct {
	Message *exportMessage `json:"message"`
}

type exportMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime float64 `json:"create_time"`
	Content    struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	} `json:"content"`
}

// ParseExport reads a ChatGPT export file and returns conversations with
// messages in chronological order. Nodes without usable text (tool calls,
// empty system slots, multimodal blobs) are skipped.
func ParseExport(path string) ([]Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	var raw []exportConversation
	if err := json.Unmarshal(data, &raw); err != nil {
		// Some exports wrap a single conversation as an object.
		var single exportConversation
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("failed to parse export %s: %w", filepath.Base(path), err)
		}
		raw = []exportConversation{single}
	}

	conversations := make([]Conversation, 0, len(raw))
	for _, rc := range raw {
		conv := Conversation{Title: rc.Title}
		for _, node := range rc.Mapping {
			msg := flattenMessage(node.Message)
			if msg != nil {
				conv.Messages = append(conv.Messages, *msg)
			}
		}
		sort.SliceStable(conv.Messages, func(i, j int) bool {
			return conv.Messages[i].CreateTime < conv.Messages[j].CreateTime
		})
		if len(conv.Messages) > 0 {
			conversations = append(conversations, conv)
		}
	}

	logging.Ingest("parsed %s: %d conversations", filepath.Base(path), len(conversations))
	return conversations, nil
}

func flattenMessage(m *exportMessage) *Message {
	if m == nil {
		return nil
	}
	if m.Content.ContentType != "" && m.Content.ContentType != "text" {
		return nil
	}

	var parts []string
	for _, raw := range m.Content.Parts {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue // non-text part
		}
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	role := m.Author.Role
	if role == "" {
		role = "unknown"
	}
	return &Message{
		Role:       role,
		Text:       strings.Join(parts, "\n"),
		CreateTime: m.CreateTime,
	}
}

// ScanDir lists export files in dir that the filter accepts. The filter
// typically rejects already-processed paths.
func ScanDir(dir string, accept func(path string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan input dir: %w", err)
	}

	var exports []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if accept == nil || accept(path) {
			exports = append(exports, path)
		}
	}
	sort.Strings(exports)
	return exports, nil
}
