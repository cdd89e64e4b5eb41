package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/tools"
)

// DefaultMaxChars bounds the text returned by WebFetch.
const DefaultMaxChars = 8000

// WebFetch downloads a page and returns its visible text.
type WebFetch struct {
	Client   *http.Client
	MaxChars int
}

var _ tools.Tool = (*WebFetch)(nil)

// NewWebFetch creates a WebFetch tool using the default HTTP client.
func NewWebFetch() *WebFetch {
	return &WebFetch{Client: http.DefaultClient, MaxChars: DefaultMaxChars}
}

func (w *WebFetch) Name() string { return "web_fetch" }

func (w *WebFetch) Description() string {
	return "Fetches a web page and returns its text content. Input should be a URL."
}

// Call fetches the URL in input.
func (w *WebFetch) Call(ctx context.Context, input string) (string, error) {
	target := strings.TrimSpace(input)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "chatpipe/1.0")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	text, err := extractText(resp.Body)
	if err != nil {
		return "", err
	}
	if limit := w.MaxChars; limit > 0 {
		if runes := []rune(text); len(runes) > limit {
			text = string(runes[:limit])
		}
	}
	return text, nil
}

func extractText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, iframe, svg").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	text := strings.Join(strings.Fields(body.Text()), " ")
	if text == "" {
		return "", fmt.Errorf("no text content found")
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		text = title + "\n\n" + text
	}
	return text, nil
}
