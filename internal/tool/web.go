package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kestrel/internal/domain"
)

const (
	defaultWebTimeout    = 30 * time.Second
	maxWebTimeout        = 120 * time.Second
	defaultFetchMaxBytes = 1 << 20  // 1 MiB
	maxFetchBytes        = 10 << 20 // 10 MiB
	webUserAgent         = "kestrel/0.1"
	maxRedirects         = 5
)

// PageRenderer loads a URL in a real browser and returns the rendered HTML
// after scripts have run.
type PageRenderer interface {
	HTML(ctx context.Context, url string) (string, error)
}

// WebConfig configures the web fetch and search tools.
type WebConfig struct {
	// Timeout bounds a single request unless the call overrides it.
	Timeout time.Duration
	// MaxContentBytes caps the response body before truncation.
	MaxContentBytes int
	// Renderer enables the render argument on web_fetch. Nil disables it.
	Renderer PageRenderer
	Logger   *slog.Logger
}

func (c *WebConfig) fill() {
	if c.Timeout <= 0 {
		c.Timeout = defaultWebTimeout
	}
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = defaultFetchMaxBytes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WebFetchTool fetches a URL over HTTP. Hosts resolving to loopback,
// private, or link-local addresses are refused, including on redirects.
type WebFetchTool struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int
	renderer PageRenderer
	logger   *slog.Logger

	// allowPrivate disables the host guard for tests.
	allowPrivate bool
}

func NewWebFetchTool(cfg WebConfig) *WebFetchTool {
	cfg.fill()
	t := &WebFetchTool{
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxContentBytes,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
	}
	t.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return t.checkHost(req.Context(), req.URL)
		},
	}
	return t
}

func (t *WebFetchTool) checkHost(ctx context.Context, u *url.URL) error {
	if t.allowPrivate {
		return nil
	}
	return checkFetchHost(ctx, u)
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return the response. HTML pages are reduced to their text content."
}

func (t *WebFetchTool) Parameters() map[string]any {
	props := map[string]Param{
		"url": {
			Type:        "string",
			Description: "Absolute http or https URL",
		},
		"method": {
			Type:        "string",
			Description: "HTTP method",
			Enum:        []string{"GET", "POST", "PUT", "DELETE"},
			Default:     "GET",
		},
		"body": {
			Type:        "string",
			Description: "Request body for POST and PUT",
		},
		"max_bytes": {
			Type:        "integer",
			Description: "Response size cap override",
		},
		"timeout_seconds": {
			Type:        "integer",
			Description: "Request timeout override in seconds",
		},
	}
	if t.renderer != nil {
		props["render"] = Param{
			Type:        "boolean",
			Description: "Load the page in a headless browser and return the rendered content",
			Default:     false,
		}
	}
	return ToolParameters(props, []string{"url"})
}

func (t *WebFetchTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "web",
		Patterns: []string{
			"fetch the release notes page and summarize the changes",
			"POST a JSON payload to a webhook",
		},
		Workflows: map[string][]string{
			"research a topic": {"web_search", "web_fetch"},
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := strings.TrimSpace(ArgsString(args, "url"))
	if rawURL == "" {
		return "", fmt.Errorf("url must not be empty")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q, only http and https are allowed", parsed.Scheme)
	}

	timeout := t.timeout
	if secs := ArgsInt(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > maxWebTimeout {
			timeout = maxWebTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.checkHost(ctx, parsed); err != nil {
		return "", err
	}

	if ArgsBool(args, "render", false) {
		return t.renderPage(ctx, parsed.String())
	}

	method := strings.ToUpper(strings.TrimSpace(ArgsString(args, "method")))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return "", fmt.Errorf("unsupported method %q", method)
	}

	var body io.Reader
	if payload := ArgsString(args, "body"); payload != "" && (method == http.MethodPost || method == http.MethodPut) {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", parsed.String(), err)
	}
	defer resp.Body.Close()

	maxBytes := t.maxBytes
	if n := ArgsInt(args, "max_bytes", 0); n > 0 {
		maxBytes = n
		if maxBytes > maxFetchBytes {
			maxBytes = maxFetchBytes
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(data)
	if strings.Contains(contentType, "html") {
		text = htmlToText(text)
	}
	if truncated {
		text += "\n... (response truncated)"
	}

	t.logger.Debug("fetched url", "url", resp.Request.URL.String(), "status", resp.StatusCode, "bytes", len(data))

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %s\n", resp.Status)
	fmt.Fprintf(&b, "URL: %s\n", resp.Request.URL.String())
	if contentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\n", contentType)
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String(), nil
}

func (t *WebFetchTool) renderPage(ctx context.Context, pageURL string) (string, error) {
	if t.renderer == nil {
		return "", fmt.Errorf("page rendering is not enabled")
	}
	html, err := t.renderer.HTML(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	text := htmlToText(html)
	if len(text) > t.maxBytes {
		text = text[:t.maxBytes] + "\n... (response truncated)"
	}
	return fmt.Sprintf("URL: %s (rendered)\n\n%s", pageURL, text), nil
}

// checkFetchHost refuses hosts that resolve to loopback, private, or
// link-local addresses so the tool cannot be aimed at internal services.
func checkFetchHost(ctx context.Context, u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return checkFetchIP(host, ip)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, addr := range addrs {
		if err := checkFetchIP(host, addr.IP); err != nil {
			return err
		}
	}
	return nil
}

func checkFetchIP(host string, ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("host %q resolves to a private or loopback address", host)
	}
	return nil
}

// htmlToText strips tags, drops script and style bodies, and collapses
// blank lines. Good enough for reading articles, not a real HTML parser.
func htmlToText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '<' {
			b.WriteByte(s[i])
			i++
			continue
		}
		rest := s[i:]
		switch {
		case hasFoldPrefix(rest, "<script"):
			i += skipElement(rest, "</script>")
		case hasFoldPrefix(rest, "<style"):
			i += skipElement(rest, "</style>")
		default:
			end := strings.IndexByte(rest, '>')
			if end < 0 {
				return collapseBlankLines(b.String())
			}
			i += end + 1
		}
	}
	return collapseBlankLines(b.String())
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// skipElement returns the offset just past the closing tag, or past the
// whole remainder when the tag never closes.
func skipElement(s, closing string) int {
	idx := strings.Index(strings.ToLower(s), closing)
	if idx < 0 {
		return len(s)
	}
	return idx + len(closing)
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

const instantAnswerEndpoint = "https://api.duckduckgo.com/"

// WebSearchTool queries the DuckDuckGo instant answer API. No key needed,
// but coverage is spotty for conversational queries.
type WebSearchTool struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewWebSearchTool(cfg WebConfig) *WebSearchTool {
	cfg.fill()
	return &WebSearchTool{
		client:   &http.Client{},
		endpoint: instantAnswerEndpoint,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return a short summary with source links. Use for current events or facts you are unsure about."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"query": {
			Type:        "string",
			Description: "Search query",
		},
	}, []string{"query"})
}

func (t *WebSearchTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "web",
		Patterns: []string{
			"what is the latest stable Go release",
			"look up the capital of Kazakhstan",
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(ArgsString(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	endpoint := t.endpoint + "?q=" + url.QueryEscape(query) + "&format=json&no_html=1&skip_disambig=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultFetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var answer instantAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var sections []string
	if answer.Abstract != "" {
		heading := answer.Heading
		if heading == "" {
			heading = query
		}
		sections = append(sections, fmt.Sprintf("## %s\n%s\nSource: %s", heading, answer.Abstract, answer.AbstractURL))
	}
	if answer.Answer != "" {
		sections = append(sections, "Answer: "+answer.Answer)
	}
	var topics []string
	for _, topic := range answer.RelatedTopics {
		if topic.Text == "" {
			continue
		}
		line := "- " + topic.Text
		if topic.FirstURL != "" {
			line += " (" + topic.FirstURL + ")"
		}
		topics = append(topics, line)
		if len(topics) == 5 {
			break
		}
	}
	if len(topics) > 0 {
		sections = append(sections, "Related:\n"+strings.Join(topics, "\n"))
	}

	if len(sections) == 0 {
		return fmt.Sprintf("No instant results for %q. Try a more specific query or fetch a page directly.", query), nil
	}
	return strings.Join(sections, "\n\n"), nil
}

type instantAnswer struct {
	Abstract      string `json:"Abstract"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

var (
	_ domain.PatternedTool = (*WebFetchTool)(nil)
	_ domain.PatternedTool = (*WebSearchTool)(nil)
)
