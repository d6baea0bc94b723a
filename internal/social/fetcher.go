// Package social fetches posts from authenticated social timelines by
// rendering them in headless Chrome with an exported session.
package social

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"feedsweep/internal/ingest"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	postSelector     = `article[data-testid="tweet"]`
	titleRunes       = 80
)

// Timeline DOM changes often; keep the extraction in one place.
const extractJS = `
(function() {
	const results = [];
	document.querySelectorAll('article[data-testid="tweet"]').forEach(el => {
		const statusLink = el.querySelector('a[href*="/status/"]');
		const link = statusLink ? statusLink.href : '';
		if (!link) return;
		const nameEl = el.querySelector('[data-testid="User-Name"] span');
		const textEl = el.querySelector('[data-testid="tweetText"]');
		const timeEl = el.querySelector('time');
		results.push({
			link: link,
			author: nameEl ? nameEl.textContent : '',
			content: textEl ? textEl.textContent : '',
			timestamp: timeEl ? timeEl.getAttribute('datetime') || '' : ''
		});
	});
	return results;
})()
`

// Options configures the browser.
type Options struct {
	Headless   bool
	CookieFile string
	// Timeout bounds one timeline render.
	Timeout time.Duration
}

// Fetcher renders a timeline URL and extracts its posts.
type Fetcher struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	cookies []*network.Cookie
	loaded  time.Time
}

// NewFetcher creates a social timeline fetcher.
func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{opts: opts, logger: logger.With("component", "social")}
}

type rawPost struct {
	Link      string `json:"link"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Fetch renders src.URL with the session cookies and returns the visible posts.
func (f *Fetcher) Fetch(ctx context.Context, src ingest.Source) ([]ingest.RawItem, error) {
	u, err := url.Parse(src.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid timeline url %q", src.URL)
	}
	cookies, err := f.session()
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(f.opts.Headless)...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	browserCtx, timeoutCancel := context.WithTimeout(browserCtx, f.opts.Timeout)
	defer timeoutCancel()

	var posts []rawPost
	err = chromedp.Run(browserCtx,
		injectCookies(forHost(cookies, u.Hostname())),
		chromedp.Navigate(src.URL),
		chromedp.WaitVisible(postSelector, chromedp.ByQuery),
		chromedp.Evaluate(extractJS, &posts),
	)
	if err != nil {
		return nil, fmt.Errorf("render timeline %s: %w", src.URL, err)
	}
	items := toRawItems(posts)
	f.logger.Debug("timeline rendered", "source", src.Name, "posts", len(items))
	return items, nil
}

// session loads the cookie file once and reloads it every hour so a
// refreshed export is picked up without a restart.
func (f *Fetcher) session() ([]*network.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opts.CookieFile == "" {
		return nil, ErrNoSession
	}
	if f.cookies != nil && time.Since(f.loaded) < time.Hour {
		return f.cookies, nil
	}
	cookies, err := LoadCookies(f.opts.CookieFile, time.Now())
	if err != nil {
		return nil, err
	}
	f.cookies = cookies
	f.loaded = time.Now()
	return cookies, nil
}

func allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(defaultUserAgent),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-extensions", true),
	)
	if headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	return opts
}

func injectCookies(cookies []*network.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithSameSite(c.SameSite).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

func toRawItems(posts []rawPost) []ingest.RawItem {
	seen := make(map[string]bool, len(posts))
	items := make([]ingest.RawItem, 0, len(posts))
	for _, p := range posts {
		link := canonicalLink(p.Link)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true

		var published time.Time
		if p.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
				published = t
			}
		}
		content := strings.TrimSpace(p.Content)
		items = append(items, ingest.RawItem{
			Title:       titleFrom(content),
			Link:        link,
			Content:     content,
			PublishedAt: published,
			Author:      strings.TrimSpace(p.Author),
		})
	}
	return items
}

// canonicalLink drops query and fragment so the same post always dedupes.
func canonicalLink(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func titleFrom(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= titleRunes {
		return line
	}
	r := []rune(line)
	return string(r[:titleRunes]) + "…"
}
