// Package sources pulls external material referenced in the research
// document: YouTube transcripts, arXiv abstracts, and plain articles.
package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"

	"arf/internal/logging"
)

var (
	videoIDRe = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})(?:[&?/]|$)`)
	arxivIDRe = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/([0-9]{4}\.[0-9]{4,5})`)
)

// Material is the digested content of one external source.
type Material struct {
	URL     string
	Kind    string // youtube, arxiv, article
	Title   string
	Content string
}

// Integrator fetches and digests external sources.
type Integrator struct {
	httpClient *http.Client
	timedtext  string
	arxivAPI   string
}

// NewIntegrator creates an integrator with default endpoints.
func NewIntegrator() *Integrator {
	return &Integrator{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		timedtext:  "https://video.google.com/timedtext",
		arxivAPI:   "https://export.arxiv.org/api/query",
	}
}

// Process dispatches a URL to the right fetcher by host.
func (in *Integrator) Process(ctx context.Context, rawURL string) (*Material, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}

	host := strings.TrimPrefix(u.Host, "www.")
	switch {
	case host == "youtube.com" || host == "youtu.be":
		return in.ProcessYouTube(ctx, rawURL)
	case strings.HasSuffix(host, "arxiv.org"):
		return in.ProcessArxiv(ctx, rawURL)
	default:
		return in.ProcessArticle(ctx, rawURL)
	}
}

// ExtractVideoID pulls the 11-character video id out of a YouTube URL.
func ExtractVideoID(rawURL string) (string, error) {
	m := videoIDRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", fmt.Errorf("no video id in %s", rawURL)
	}
	return m[1], nil
}

// timedtext transcript format.
type transcript struct {
	Texts []struct {
		Body string `xml:",chardata"`
	} `xml:"text"`
}

// ProcessYouTube fetches the English transcript of a video through the
// timedtext endpoint.
func (in *Integrator) ProcessYouTube(ctx context.Context, rawURL string) (*Material, error) {
	id, err := ExtractVideoID(rawURL)
	if err != nil {
		return nil, err
	}

	logging.Sources("fetching transcript for video %s", id)

	endpoint := fmt.Sprintf("%s?lang=en&v=%s", in.timedtext, url.QueryEscape(id))
	body, err := in.fetch(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("transcript fetch failed: %w", err)
	}

	var tr transcript
	if err := xml.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("transcript parse failed: %w", err)
	}
	if len(tr.Texts) == 0 {
		return nil, fmt.Errorf("no transcript available for video %s", id)
	}

	var b strings.Builder
	for _, t := range tr.Texts {
		line := strings.TrimSpace(html.UnescapeString(t.Body))
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte(' ')
	}

	return &Material{
		URL:     rawURL,
		Kind:    "youtube",
		Title:   "YouTube video " + id,
		Content: strings.TrimSpace(b.String()),
	}, nil
}

// arXiv Atom response, trimmed to what we read.
type arxivFeed struct {
	Entries []struct {
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
	} `xml:"entry"`
}

// ProcessArxiv fetches title and abstract from the arXiv export API.
func (in *Integrator) ProcessArxiv(ctx context.Context, rawURL string) (*Material, error) {
	m := arxivIDRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, fmt.Errorf("no arxiv id in %s", rawURL)
	}
	id := m[1]

	logging.Sources("fetching arxiv abstract %s", id)

	endpoint := fmt.Sprintf("%s?id_list=%s", in.arxivAPI, url.QueryEscape(id))
	body, err := in.fetch(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("arxiv fetch failed: %w", err)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv response parse failed: %w", err)
	}
	if len(feed.Entries) == 0 {
		return nil, fmt.Errorf("arxiv id %s not found", id)
	}

	entry := feed.Entries[0]
	return &Material{
		URL:     rawURL,
		Kind:    "arxiv",
		Title:   collapseSpace(entry.Title),
		Content: collapseSpace(entry.Summary),
	}, nil
}

// ProcessArticle fetches a web page and extracts readable text.
func (in *Integrator) ProcessArticle(ctx context.Context, rawURL string) (*Material, error) {
	logging.Sources("fetching article %s", rawURL)

	body, err := in.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("article fetch failed: %w", err)
	}

	doc, err := xhtml.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("article parse failed: %w", err)
	}

	title, paragraphs := extractArticle(doc)
	if len(paragraphs) == 0 {
		return nil, fmt.Errorf("no readable text in %s", rawURL)
	}

	return &Material{
		URL:     rawURL,
		Kind:    "article",
		Title:   title,
		Content: strings.Join(paragraphs, "\n\n"),
	}, nil
}

func (in *Integrator) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := in.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// extractArticle walks the DOM collecting the <title> and the text of
// every <p> element, skipping script and style subtrees.
func extractArticle(doc *xhtml.Node) (string, []string) {
	var title string
	var paragraphs []string

	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" {
					title = collapseSpace(nodeText(n))
				}
			case "p":
				if text := collapseSpace(nodeText(n)); text != "" {
					paragraphs = append(paragraphs, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, paragraphs
}

func nodeText(n *xhtml.Node) string {
	var b strings.Builder
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
