package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// MaxTextChars matches the gateway's request limit.
const MaxTextChars = 50000

// Page is the readable content of a document.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Extractor fetches pages and pulls out their main text.
type Extractor struct {
	http *http.Client
}

func NewExtractor(timeout time.Duration) *Extractor {
	return &Extractor{http: &http.Client{Timeout: timeout}}
}

// Fetch downloads rawURL and extracts its article text.
func (e *Extractor) Fetch(ctx context.Context, rawURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", "veritas-cli/1.0")
	resp, err := e.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetching %s returned status %d", rawURL, resp.StatusCode)
	}
	return Extract(resp.Body, req.URL)
}

// Extract parses an HTML document. Local files pass a file:// URL.
func Extract(r io.Reader, pageURL *url.URL) (Page, error) {
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("extracting content: %w", err)
	}
	p := Page{
		Title: strings.TrimSpace(article.Title),
		Text:  truncateRunes(strings.TrimSpace(article.TextContent), MaxTextChars),
	}
	if pageURL != nil {
		p.URL = pageURL.String()
	}
	if p.Text == "" {
		return p, fmt.Errorf("no readable text found")
	}
	return p, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
