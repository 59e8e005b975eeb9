// Package toolbuiltin provides tools that ship with the module and can be
// enabled by name from configuration.
package toolbuiltin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"

	"github.com/cexll/aisdk-go/pkg/tool"
)

const (
	defaultFetchTimeout  = 15 * time.Second
	defaultFetchMaxBytes = 2 << 20
	defaultMaxTextRunes  = 20000
	fetchUserAgent       = "aisdk-go/web_fetch"
)

var (
	errBlockedDomain = errors.New("domain is blocked")
	errBadURL        = errors.New("url must be an absolute http(s) url")
)

// WebFetchOptions tunes the web_fetch tool.
type WebFetchOptions struct {
	HTTPClient     *http.Client
	Timeout        time.Duration
	MaxBytes       int64
	MaxTextRunes   int
	AllowedDomains []string
	BlockedDomains []string
}

// FetchArgs are the model supplied arguments.
type FetchArgs struct {
	URL string `json:"url"`
}

// FetchResult is returned to the model as JSON.
type FetchResult struct {
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

var fetchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"url": map[string]any{
			"type":        "string",
			"description": "Absolute http or https URL to fetch.",
		},
	},
	"required": []any{"url"},
}

type webFetcher struct {
	client   *http.Client
	maxBytes int64
	maxRunes int
	allowed  []string
	blocked  []string
}

// NewWebFetch returns a tool that downloads a page and returns its readable
// text.
func NewWebFetch(opts *WebFetchOptions) tool.Tool {
	cfg := WebFetchOptions{}
	if opts != nil {
		cfg = *opts
	}
	f := &webFetcher{
		client:   cfg.HTTPClient,
		maxBytes: cfg.MaxBytes,
		maxRunes: cfg.MaxTextRunes,
		allowed:  normaliseDomains(cfg.AllowedDomains),
		blocked:  normaliseDomains(cfg.BlockedDomains),
	}
	if f.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		f.client = &http.Client{Timeout: timeout}
	}
	if f.maxBytes <= 0 {
		f.maxBytes = defaultFetchMaxBytes
	}
	if f.maxRunes <= 0 {
		f.maxRunes = defaultMaxTextRunes
	}
	return tool.New("Fetch a web page and return its title and readable text.", fetchSchema, f.fetch)
}

func (f *webFetcher) fetch(ctx context.Context, args FetchArgs, _ tool.ExecutionOptions) (FetchResult, error) {
	target := strings.TrimSpace(args.URL)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return FetchResult{}, fmt.Errorf("%w: %q", errBadURL, args.URL)
	}
	host := strings.ToLower(u.Hostname())
	if !f.hostAllowed(host) {
		return FetchResult{}, fmt.Errorf("%w: %s", errBlockedDomain, host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")
	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return FetchResult{}, fmt.Errorf("fetch %s: http %d", host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return FetchResult{}, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > f.maxBytes
	if truncated {
		body = body[:f.maxBytes]
	}

	out := FetchResult{URL: resp.Request.URL.String(), Status: resp.StatusCode}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		out.Title, out.Text = extractText(string(body))
	} else {
		out.Text = collapseWhitespace(string(body))
	}
	if runes := []rune(out.Text); len(runes) > f.maxRunes {
		out.Text = string(runes[:f.maxRunes])
		truncated = true
	}
	out.Truncated = truncated
	return out, nil
}

func (f *webFetcher) hostAllowed(host string) bool {
	for _, d := range f.blocked {
		if domainMatches(host, d) {
			return false
		}
	}
	if len(f.allowed) == 0 {
		return true
	}
	for _, d := range f.allowed {
		if domainMatches(host, d) {
			return true
		}
	}
	return false
}

func domainMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// extractText returns the document title and the visible body text.
func extractText(doc string) (title, text string) {
	root, err := xhtml.Parse(strings.NewReader(doc))
	if err != nil {
		return "", collapseWhitespace(doc)
	}
	var body *xhtml.Node
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					var b strings.Builder
					collectNodeText(n, &b)
					title = collapseWhitespace(b.String())
				}
			case "body":
				if body == nil {
					body = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if body == nil {
		body = root
	}
	var b strings.Builder
	collectNodeText(body, &b)
	return title, collapseWhitespace(b.String())
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "svg": true, "head": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func collectNodeText(n *xhtml.Node, b *strings.Builder) {
	if n == nil {
		return
	}
	switch n.Type {
	case xhtml.TextNode:
		b.WriteString(n.Data)
		return
	case xhtml.ElementNode:
		if skippedElements[n.Data] {
			return
		}
		if blockElements[n.Data] {
			b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectNodeText(c, b)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normaliseDomains(domains []string) []string {
	if len(domains) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
