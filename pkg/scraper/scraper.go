package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
)

type ScraperConfig struct {
	// MaxDepth is how many links away from the posting to follow. Zero fetches the posting only.
	MaxDepth       int
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	Timeout        time.Duration
	UserAgent      string
	OnProgress     func(url string)
}

// Scraper fetches job postings and turns their readable text into documents.
type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth < 0 {
		config.MaxDepth = 0
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "prepbot/1.0 (+interview preparation)"
	}

	return &Scraper{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

type crawl struct {
	host    string
	visited map[string]bool
	docs    []models.Document
}

// Scrape fetches rawURL and, up to MaxDepth, same-host pages it links to.
// Only a failure on rawURL itself is returned as an error.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) ([]models.Document, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	c := &crawl{host: u.Host, visited: map[string]bool{}}
	if err := s.scrapeRecursive(ctx, c, u.String(), 0); err != nil {
		return nil, err
	}
	return c.docs, nil
}

func (s *Scraper) shouldProcessURL(c *crawl, urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host != c.host {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}
	return true
}

func (s *Scraper) scrapeRecursive(ctx context.Context, c *crawl, urlStr string, depth int) error {
	if depth > s.config.MaxDepth || c.visited[urlStr] {
		return nil
	}
	c.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	doc, err := s.fetch(ctx, urlStr)
	if err != nil {
		return err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	content := extractMainContent(doc)
	if content != "" {
		meta := map[string]string{
			models.SourceKey: urlStr,
			"depth":          strconv.Itoa(depth),
		}
		if title != "" {
			meta["title"] = title
		}
		c.docs = append(c.docs, models.Document{Content: content, Metadata: meta})
	}

	if depth == s.config.MaxDepth {
		return nil
	}

	base, _ := url.Parse(urlStr)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		next := base.ResolveReference(ref)
		next.Fragment = ""
		if !s.shouldProcessURL(c, next.String()) {
			return
		}
		if err := s.scrapeRecursive(ctx, c, next.String(), depth+1); err != nil {
			logger.Debug("skipping %s: %v", next, err)
		}
	})
	return nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	return doc, nil
}

// Job boards usually mark the description; generic page regions come after.
var contentSelectors = []string{
	"[itemprop=description]",
	".job-description",
	"#job-description",
	".description",
	"main",
	"article",
	".content",
	"#content",
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, form").Remove()

	var content string
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = blockText(selected.First())
			if strings.TrimSpace(content) != "" {
				break
			}
		}
	}
	if strings.TrimSpace(content) == "" {
		content = blockText(doc.Find("body"))
	}
	return cleanContent(content)
}

// blockText keeps paragraph and list boundaries as newlines so the chunker
// can split on them.
func blockText(sel *goquery.Selection) string {
	sel.Find("p, li, h1, h2, h3, h4, h5, h6, br, div, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return sel.Text()
}

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func cleanContent(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		for _, pattern := range noisePatterns {
			line = strings.ReplaceAll(line, pattern, "")
		}
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
