package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
)

const (
	maxRedirects     = 5
	maxSearchResults = 5
	maxFetchBytes    = 100 * 1024

	userAgent = "Mozilla/5.0 (compatible; helping-hands/1.0)"
)

// searchResult is one hit from a search provider.
type searchResult struct {
	Title       string
	Description string
	URL         string
}

// searchProvider abstracts the web search backend so the executor does not
// care which API answers.
type searchProvider interface {
	name() string
	search(ctx context.Context, query string, maxResults int) ([]searchResult, error)
}

// newSearchProvider selects Google Custom Search when credentials are
// configured, otherwise the keyless DuckDuckGo instant-answer API.
func newSearchProvider(cfg config.ToolsConfig, client *http.Client) searchProvider {
	if cfg.SearchAPIKey != "" && cfg.SearchCX != "" {
		return &googleSearch{client: client, apiKey: cfg.SearchAPIKey, cx: cfg.SearchCX}
	}
	return &duckduckgoSearch{client: client}
}

// googleSearch queries the Google Custom Search API.
type googleSearch struct {
	client *http.Client
	apiKey string
	cx     string
}

func (g *googleSearch) name() string { return "google" }

func (g *googleSearch) search(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	searchURL := fmt.Sprintf(
		"https://www.googleapis.com/customsearch/v1?key=%s&cx=%s&q=%s&num=%d",
		url.QueryEscape(g.apiKey), url.QueryEscape(g.cx), url.QueryEscape(query), maxResults,
	)

	body, err := fetchBody(ctx, g.client, searchURL)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("search API error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}

	results := make([]searchResult, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		results = append(results, searchResult{Title: item.Title, Description: item.Snippet, URL: item.Link})
	}
	return results, nil
}

// duckduckgoSearch queries the DuckDuckGo instant-answer API. It needs no
// key but only answers encyclopedic queries.
type duckduckgoSearch struct {
	client *http.Client
}

func (d *duckduckgoSearch) name() string { return "duckduckgo" }

func (d *duckduckgoSearch) search(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	searchURL := fmt.Sprintf(
		"https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
		url.QueryEscape(query),
	)

	body, err := fetchBody(ctx, d.client, searchURL)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Heading       string `json:"Heading"`
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Answer        string `json:"Answer"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	var results []searchResult
	if decoded.AbstractText != "" {
		results = append(results, searchResult{
			Title:       decoded.Heading,
			Description: decoded.AbstractText,
			URL:         decoded.AbstractURL,
		})
	}
	if decoded.Answer != "" {
		results = append(results, searchResult{Title: "Instant Answer", Description: decoded.Answer})
	}
	for _, topic := range decoded.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.Text != "" {
			results = append(results, searchResult{Description: topic.Text, URL: topic.FirstURL})
		}
	}
	return results, nil
}

// fetchBody performs a GET and returns up to maxFetchBytes of the body.
func fetchBody(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// webBrowse fetches a page and feeds its readable text back to the model.
func (e *Executor) webBrowse(ctx context.Context, req Request) Result {
	pageURL := strings.TrimSpace(req.Target)
	if pageURL == "" {
		return e.fail(req, "empty URL")
	}
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return e.fail(req, "URL must start with http:// or https://")
	}

	ctx, cancel := context.WithTimeout(ctx, e.webTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return e.fail(req, fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return e.fail(req, fmt.Sprintf("fetch failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return e.fail(req, fmt.Sprintf("HTTP error: %s", resp.Status))
	}
	if contentType := resp.Header.Get("Content-Type"); !isTextContent(contentType) {
		return e.fail(req, fmt.Sprintf("unsupported content type: %s", contentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return e.fail(req, fmt.Sprintf("failed to read response: %v", err))
	}

	page := string(body)
	var b strings.Builder
	if title := htmlTitle(page); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(htmlText(page))
	return e.ok(req, b.String())
}

func isTextContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "text/plain") ||
		strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "xml")
}

var (
	titleRe   = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	scriptRe  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockRe   = regexp.MustCompile(`(?i)</?(p|div|h[1-6]|li|tr|br|hr)[^>]*>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRe   = regexp.MustCompile(`[ \t]+`)
)

func htmlTitle(page string) string {
	if m := titleRe.FindStringSubmatch(page); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// htmlText strips a page down to its readable text.
func htmlText(page string) string {
	page = scriptRe.ReplaceAllString(page, "")
	page = commentRe.ReplaceAllString(page, "")
	page = blockRe.ReplaceAllString(page, "\n")
	page = tagRe.ReplaceAllString(page, "")

	for entity, plain := range map[string]string{
		"&nbsp;": " ", "&amp;": "&", "&lt;": "<", "&gt;": ">",
		"&quot;": `"`, "&#39;": "'", "&apos;": "'",
	} {
		page = strings.ReplaceAll(page, entity, plain)
	}
	page = spaceRe.ReplaceAllString(page, " ")

	var lines []string
	for _, line := range strings.Split(page, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}
