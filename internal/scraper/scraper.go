package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/duiduidodge/noon-feed-sub001/internal/retry"
)

const (
	MethodReadability = "readability"
	MethodSelectors   = "selectors"
	MethodStripTags   = "strip-tags"

	DefaultUserAgent = "Mozilla/5.0 (compatible; noonfeed/1.0; +https://github.com/duiduidodge/noon-feed-sub001)"

	maxBodyBytes = 5 << 20
	// readability output shorter than this is compared against the selector parser
	minReadableChars = 200
)

// ErrUnusableContent means the page downloaded but holds nothing to extract.
var ErrUnusableContent = errors.New("unusable content")

// ArticleContent is full article content
type ArticleContent struct {
	URL    string
	Title  string
	Byline string
	Text   string
	HTML   string
	Method string
}

type statusError struct {
	Code int
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP error: %d", e.Code) }

type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	Retry     retry.RetryConfig
	Logger    *slog.Logger
}

func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		Client:    &http.Client{},
		UserAgent: userAgent,
		Timeout:   timeout,
		Retry: retry.RetryConfig{
			MaxAttempts: 3,
			Delay:       time.Second,
			Backoff:     true,
		},
		Logger: slog.Default().With("component", "scraper"),
	}
}

// Fetch downloads a page and extracts its main text. Extraction never fails
// once HTML is in hand: readability, then site selectors, then tag stripping.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*ArticleContent, error) {
	cfg := f.Retry
	cfg.Name = "article " + pageURL
	cfg.Logger = f.Logger
	cfg.ShouldRetry = isRetryable

	html, err := retry.Do(ctx, cfg, func(ctx context.Context) (string, error) {
		return f.download(ctx, pageURL)
	})
	if err != nil {
		return nil, err
	}

	article := Extract(html, pageURL)
	f.Logger.Debug("article extracted", "url", pageURL, "method", article.Method, "chars", len(article.Text))
	return article, nil
}

func (f *Fetcher) download(ctx context.Context, pageURL string) (string, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &statusError{Code: resp.StatusCode}
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return "", fmt.Errorf("%w: content type %q", ErrUnusableContent, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrUnusableContent)
	}
	return string(body), nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrUnusableContent) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Extract runs the extraction chain over already downloaded HTML.
func Extract(html, pageURL string) *ArticleContent {
	out := &ArticleContent{URL: pageURL, HTML: html}

	if a, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL)); err == nil {
		out.Title = strings.TrimSpace(a.Title)
		out.Byline = strings.TrimSpace(a.Byline)
		out.Text = normalizeWhitespace(a.TextContent)
		out.Method = MethodReadability
	}

	if len(out.Text) < minReadableChars {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			if text := cleanContent(extractContentBySource(doc, pageURL)); len(text) > len(out.Text) {
				out.Text = text
				out.Method = MethodSelectors
			}
			if out.Title == "" {
				out.Title = extractTitle(doc)
			}
		}
	}

	if out.Text == "" {
		out.Text = StripTags(html)
		out.Method = MethodStripTags
	}
	return out
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// extractContentBySource gets content by news site
func extractContentBySource(doc *goquery.Document, pageURL string) string {
	var selectors []string

	switch {
	case strings.Contains(pageURL, "coindesk.com"):
		selectors = []string{"[data-module-name='article-body'] p", ".at-text p", "article p"}
	case strings.Contains(pageURL, "cointelegraph.com"):
		selectors = []string{".post-content p", ".post__content p", "article p"}
	case strings.Contains(pageURL, "theblock.co"):
		selectors = []string{"#articleContent p", ".articleContent p", "article p"}
	case strings.Contains(pageURL, "decrypt.co"):
		selectors = []string{".post-content p", "article p"}
	default:
		return extractGenericContent(doc)
	}

	return joinParagraphs(doc, selectors, 10, 1)
}

// extractGenericContent is universal parser for any site
func extractGenericContent(doc *goquery.Document) string {
	selectors := []string{
		"article p",
		".article p",
		".content p",
		".post-content p",
		".entry-content p",
		"main p",
		"#content p",
		".text p",
		"p",
	}
	return joinParagraphs(doc, selectors, 20, 3)
}

// joinParagraphs walks selectors in order and stops once enough paragraphs are found.
func joinParagraphs(doc *goquery.Document, selectors []string, minLen, enough int) string {
	var paragraphs []string
	for _, selector := range selectors {
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > minLen {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= enough {
			break
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// extractTitle gets article title
func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := strings.TrimSpace(og); t != "" {
			return t
		}
	}
	for _, selector := range []string{"h1", "title", ".article-title", ".headline", ".entry-title"} {
		if title := strings.TrimSpace(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	return ""
}
