// ABOUTME: Resolves a URL to a small preview: title, site name, description and sensitivity
// ABOUTME: Reads OpenGraph and standard meta tags with golang.org/x/net/html

// Package linkpreview fetches web pages and summarizes them for the model.
package linkpreview

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultUserAgent = "coven-aichat/1.0 (+link preview)"
	defaultMaxBytes  = 1 << 20
	defaultTimeout   = 10 * time.Second
)

// Preview is what the bot learns about a linked page
type Preview struct {
	URL         string
	Title       string
	SiteName    string
	Description string
	Sensitive   bool
}

// Resolver fetches pages and extracts previews
type Resolver struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// New creates a Resolver. A nil client gets NewPublicClient with a 10s
// timeout; a caller-supplied client is used as is.
func New(client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = NewPublicClient(defaultTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:    client,
		userAgent: defaultUserAgent,
		maxBytes:  defaultMaxBytes,
		logger:    logger.With("component", "linkpreview"),
	}
}

// Resolve fetches rawURL and returns its preview.
// Pages that are not HTML produce a preview without a title.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Preview, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	p := &Preview{URL: resp.Request.URL.String()}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		r.logger.Debug("not an html page", "url", rawURL, "content_type", mediaType)
		return p, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	fillFromDocument(p, root)
	if p.SiteName == "" {
		p.SiteName = u.Hostname()
	}
	return p, nil
}

// fillFromDocument walks the document once, preferring OpenGraph over plain tags
func fillFromDocument(p *Preview, root *html.Node) {
	var docTitle, metaDescription string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if docTitle == "" {
					docTitle = textContent(n)
				}
			case "meta":
				key := strings.ToLower(attr(n, "property"))
				if key == "" {
					key = strings.ToLower(attr(n, "name"))
				}
				content := strings.TrimSpace(attr(n, "content"))
				switch key {
				case "og:title":
					p.Title = content
				case "og:site_name":
					p.SiteName = content
				case "og:description":
					p.Description = content
				case "description":
					metaDescription = content
				case "rating":
					if isAdultRating(content) {
						p.Sensitive = true
					}
				case "mixi:content-rating":
					if content == "1" {
						p.Sensitive = true
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if p.Title == "" {
		p.Title = docTitle
	}
	if p.Description == "" {
		p.Description = metaDescription
	}
}

func isAdultRating(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "adult" || v == "rta-5042-1996-1400-1577-rta"
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
