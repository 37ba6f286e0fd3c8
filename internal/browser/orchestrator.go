// Package browser accesses AI chat services through their web UIs when
// no API is available, and monitors active conversations for new
// messages.
package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"arf/internal/logging"
)

// Service identifies a chat service the orchestrator knows how to read.
type Service string

const (
	ServiceChatGPT Service = "chatgpt"
	ServiceGemini  Service = "gemini"
	ServiceClaude  Service = "claude"
)

var serviceURLs = map[Service]string{
	ServiceChatGPT: "https://chatgpt.com",
	ServiceGemini:  "https://gemini.google.com",
	ServiceClaude:  "https://claude.ai",
}

// Message is one chat message scraped from a service page.
type Message struct {
	Service Service   `json:"service"`
	Role    string    `json:"role"`
	Text    string    `json:"text"`
	Seen    time.Time `json:"seen"`
}

// Config holds orchestrator settings.
type Config struct {
	Headless       bool
	SlowMo         time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		SlowMo:         time.Second,
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		NavTimeout:     30 * time.Second,
	}
}

type session struct {
	service Service
	page    *rod.Page
	// seen counts messages already reported, so CheckUpdates only
	// returns the tail added since the previous call.
	seen int
}

// Orchestrator owns the headless Chrome and one page per service.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	browser  *rod.Browser
	sessions map[Service]*session
}

// NewOrchestrator creates an orchestrator; the browser launches lazily
// on first use.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.NavTimeout == 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: make(map[Service]*session),
	}
}

// Start launches Chrome and connects. Safe to call more than once; a
// stale connection is replaced.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startLocked()
}

func (o *Orchestrator) startLocked() error {
	if o.browser != nil {
		if _, err := o.browser.Version(); err == nil {
			return nil
		}
		logging.Browser("stale browser connection, relaunching")
		_ = o.browser.Close()
		o.browser = nil
		o.sessions = make(map[Service]*session)
	}

	controlURL, err := launcher.New().Headless(o.cfg.Headless).Launch()
	if err != nil {
		return fmt.Errorf("failed to launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if o.cfg.SlowMo > 0 {
		browser = browser.SlowMotion(o.cfg.SlowMo)
	}
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to chrome: %w", err)
	}

	o.browser = browser
	logging.Browser("browser connected (headless=%v)", o.cfg.Headless)
	return nil
}

// Session returns the page for a service, opening it on first access.
func (o *Orchestrator) Session(svc Service) (*rod.Page, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	url, ok := serviceURLs[svc]
	if !ok {
		return nil, fmt.Errorf("unknown service %q", svc)
	}

	if err := o.startLocked(); err != nil {
		return nil, err
	}

	if s, ok := o.sessions[svc]; ok {
		return s.page, nil
	}

	page, err := o.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page for %s: %w", svc, err)
	}

	if o.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: o.cfg.UserAgent}); err != nil {
			logging.BrowserError("user agent override failed: %v", err)
		}
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             o.cfg.ViewportWidth,
		Height:            o.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logging.BrowserError("viewport override failed: %v", err)
	}

	if err := page.Timeout(o.cfg.NavTimeout).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to open %s: %w", svc, err)
	}

	o.sessions[svc] = &session{service: svc, page: page}
	logging.Browser("session opened: %s", svc)
	return page, nil
}

// IsAuthenticated reports whether the service page shows a signed-in
// conversation view rather than a login wall.
func (o *Orchestrator) IsAuthenticated(svc Service) bool {
	page, err := o.Session(svc)
	if err != nil {
		return false
	}

	res, err := page.Eval(`() => {
		const text = document.body ? document.body.innerText.toLowerCase() : "";
		return !(text.includes("log in") || text.includes("sign in"));
	}`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// CheckUpdates scrapes the current conversation and returns messages
// that appeared since the previous check. The selector set covers the
// common chat layouts; unmatched pages yield no messages.
func (o *Orchestrator) CheckUpdates(svc Service, since time.Time) ([]Message, error) {
	page, err := o.Session(svc)
	if err != nil {
		return nil, err
	}

	res, err := page.Eval(`() => {
		const selectors = [
			'[data-message-author-role]',
			'message-content',
			'[data-testid="conversation-turn"]',
		];
		const out = [];
		for (const sel of selectors) {
			for (const el of document.querySelectorAll(sel)) {
				const role = el.getAttribute('data-message-author-role') || 'assistant';
				const text = (el.innerText || '').trim();
				if (text) out.push({ role, text });
			}
			if (out.length) break;
		}
		return JSON.stringify(out);
	}`)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s conversation: %w", svc, err)
	}

	var scraped []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &scraped); err != nil {
		return nil, fmt.Errorf("failed to decode scraped messages: %w", err)
	}

	now := time.Now()

	o.mu.Lock()
	offset := 0
	if s := o.sessions[svc]; s != nil {
		offset = s.seen
		if offset > len(scraped) {
			offset = 0 // conversation replaced, report everything
		}
		s.seen = len(scraped)
	}
	o.mu.Unlock()

	messages := make([]Message, 0, len(scraped)-offset)
	for _, m := range scraped[offset:] {
		messages = append(messages, Message{
			Service: svc,
			Role:    m.Role,
			Text:    m.Text,
			Seen:    now,
		})
	}

	logging.Browser("%s: %d new messages", svc, len(messages))
	return messages, nil
}

// Ask submits a prompt to the service's chat input and waits for a
// response to render. Best effort: web UIs change without notice.
func (o *Orchestrator) Ask(svc Service, prompt string) (string, error) {
	page, err := o.Session(svc)
	if err != nil {
		return "", err
	}

	input, err := page.Timeout(o.cfg.NavTimeout).Element(`textarea, [contenteditable="true"]`)
	if err != nil {
		return "", fmt.Errorf("no chat input on %s page: %w", svc, err)
	}
	if err := input.Input(prompt); err != nil {
		return "", fmt.Errorf("failed to type prompt: %w", err)
	}
	if err := input.Type('\n'); err != nil {
		return "", fmt.Errorf("failed to submit prompt: %w", err)
	}

	// Let the response stream in before scraping it back.
	time.Sleep(o.cfg.SlowMo + 5*time.Second)

	msgs, err := o.CheckUpdates(svc, time.Time{})
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "user" {
			return msgs[i].Text, nil
		}
	}
	return "", errors.New("no response rendered")
}

// Close shuts down all pages and the browser.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for svc, s := range o.sessions {
		if s.page != nil {
			_ = s.page.Close()
		}
		delete(o.sessions, svc)
	}

	var err error
	if o.browser != nil {
		err = o.browser.Close()
		o.browser = nil
	}
	logging.Browser("browser closed")
	return err
}
