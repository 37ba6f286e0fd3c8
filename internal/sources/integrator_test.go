package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", true},
		{"https://example.com/no-video-here", "", false},
	}
	for _, tc := range cases {
		got, err := ExtractVideoID(tc.url)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ExtractVideoID(%q) = %q, %v; want %q", tc.url, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ExtractVideoID(%q) should fail", tc.url)
		}
	}
}

func TestProcessYouTubeParsesTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "dQw4w9WgXcQ" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<transcript>
  <text start="0.0" dur="2.1">consider the sum</text>
  <text start="2.1" dur="3.0">of the first n squares</text>
  <text start="5.1" dur="1.0">  </text>
</transcript>`)
	}))
	defer srv.Close()

	in := NewIntegrator()
	in.timedtext = srv.URL

	mat, err := in.ProcessYouTube(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("ProcessYouTube: %v", err)
	}
	if mat.Kind != "youtube" {
		t.Fatalf("kind=%q", mat.Kind)
	}
	if mat.Content != "consider the sum of the first n squares" {
		t.Fatalf("content=%q", mat.Content)
	}
}

func TestProcessYouTubeEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<transcript></transcript>`)
	}))
	defer srv.Close()

	in := NewIntegrator()
	in.timedtext = srv.URL

	if _, err := in.ProcessYouTube(context.Background(), "https://youtu.be/dQw4w9WgXcQ"); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestProcessArxivParsesAbstract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_list") != "2401.00001" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>On Gaps Between
      Consecutive Primes</title>
    <summary>We study the distribution of
      prime gaps.</summary>
  </entry>
</feed>`)
	}))
	defer srv.Close()

	in := NewIntegrator()
	in.arxivAPI = srv.URL

	mat, err := in.ProcessArxiv(context.Background(), "https://arxiv.org/abs/2401.00001")
	if err != nil {
		t.Fatalf("ProcessArxiv: %v", err)
	}
	if mat.Title != "On Gaps Between Consecutive Primes" {
		t.Fatalf("title=%q", mat.Title)
	}
	if mat.Content != "We study the distribution of prime gaps." {
		t.Fatalf("content=%q", mat.Content)
	}
}

func TestProcessArxivRejectsUnknownID(t *testing.T) {
	in := NewIntegrator()
	if _, err := in.ProcessArxiv(context.Background(), "https://arxiv.org/about"); err == nil {
		t.Fatal("expected error for URL without arxiv id")
	}
}

func TestProcessArticleExtractsParagraphs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Prime Patterns</title>
<style>p { color: red }</style></head>
<body>
<script>var x = "not content";</script>
<p>First paragraph about primes.</p>
<div><p>Nested   second
paragraph.</p></div>
</body></html>`)
	}))
	defer srv.Close()

	in := NewIntegrator()
	mat, err := in.ProcessArticle(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ProcessArticle: %v", err)
	}
	if mat.Title != "Prime Patterns" {
		t.Fatalf("title=%q", mat.Title)
	}
	if strings.Contains(mat.Content, "not content") {
		t.Fatalf("script text leaked into content: %q", mat.Content)
	}
	want := "First paragraph about primes.\n\nNested second paragraph."
	if mat.Content != want {
		t.Fatalf("content=%q", mat.Content)
	}
}

func TestProcessDispatchesByHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>generic page</p></body></html>`)
	}))
	defer srv.Close()

	in := NewIntegrator()
	mat, err := in.Process(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if mat.Kind != "article" {
		t.Fatalf("kind=%q", mat.Kind)
	}
}
