// Package webtext fetches a web page and reduces it to readable text that can
// be handed to the model as context.
package webtext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultMaxBytes = 2 << 20
	defaultMaxChars = 12000
	userAgent       = "shellsage/1.0"
)

// Page is the readable content of a fetched document.
type Page struct {
	URL         string
	Status      int
	Title       string
	Description string
	Text        string
	Truncated   bool
}

// Fetcher downloads pages over HTTP.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// NewFetcher returns a Fetcher whose requests are bounded by timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: defaultMaxBytes,
		maxChars: defaultMaxChars,
	}
}

// Fetch retrieves rawURL and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Page{}, errors.New("url is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Page{}, fmt.Errorf("fetch %s: HTTP %d", u, resp.StatusCode)
	}

	limited := &io.LimitedReader{R: resp.Body, N: f.maxBytes}
	body, err := io.ReadAll(limited)
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", u, err)
	}

	page := Page{URL: resp.Request.URL.String(), Status: resp.StatusCode, Truncated: limited.N == 0}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") {
		page.Text = string(body)
	} else {
		page, err = Extract(bytes.NewReader(body), page)
		if err != nil {
			return Page{}, err
		}
	}
	if f.maxChars > 0 && len(page.Text) > f.maxChars {
		page.Text = page.Text[:f.maxChars]
		page.Truncated = true
	}
	return page, nil
}

// Extract parses HTML from r and fills the readable fields of base.
func Extract(r io.Reader, base Page) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer, header, svg, iframe").Remove()

	base.Title = normalizeWhitespace(doc.Find("title").First().Text())
	base.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))

	var blocks []string
	doc.Find("h1, h2, h3, h4, p, li, pre, td").Each(func(_ int, sel *goquery.Selection) {
		// nested matches are covered by their outermost block
		if sel.ParentsFiltered("p, li, pre, td").Length() > 0 {
			return
		}
		var text string
		if goquery.NodeName(sel) == "pre" {
			text = strings.TrimRight(sel.Text(), "\n ")
		} else {
			text = normalizeWhitespace(sel.Text())
		}
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1", "h2", "h3", "h4":
			text = "## " + text
		case "li":
			text = "- " + text
		}
		blocks = append(blocks, text)
	})
	if len(blocks) == 0 {
		if body := normalizeWhitespace(doc.Find("body").Text()); body != "" {
			blocks = append(blocks, body)
		}
	}
	base.Text = strings.Join(blocks, "\n")
	return base, nil
}

// Render formats the page as a user message for the conversation.
func (p Page) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Fetched page: %s]\n", p.URL)
	if p.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	}
	if p.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	}
	sb.WriteString("\n")
	sb.WriteString(p.Text)
	if p.Truncated {
		sb.WriteString("\n... (content truncated)")
	}
	return sb.String()
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
