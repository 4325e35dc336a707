package netclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// Browser renders JavaScript-heavy pages.
type Browser interface {
	// Render loads rawURL through proxy (nil means direct), waits until
	// waitSelector is visible and returns the document HTML.
	Render(ctx context.Context, rawURL, waitSelector string, proxy *url.URL) (string, error)
}

// DefaultMaxTabs bounds concurrent browser sessions.
const DefaultMaxTabs = 4

// ChromeConfig configures ChromeBrowser.
type ChromeConfig struct {
	ExecPath  string
	Headless  bool
	UserAgent string
	MaxTabs   int
}

// ChromeBrowser starts one headless Chrome per render so each render can use
// its own proxy.
type ChromeBrowser struct {
	cfg ChromeConfig
	sem *semaphore.Weighted
}

var _ Browser = (*ChromeBrowser)(nil)

// NewChromeBrowser creates a browser. No process starts until Render.
func NewChromeBrowser(cfg ChromeConfig) *ChromeBrowser {
	if cfg.MaxTabs <= 0 {
		cfg.MaxTabs = DefaultMaxTabs
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &ChromeBrowser{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxTabs))}
}

// Render implements Browser.
func (b *ChromeBrowser) Render(ctx context.Context, rawURL, waitSelector string, proxy *url.URL) (string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.sem.Release(1)

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.UserAgent(b.cfg.UserAgent),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}

	var user *url.Userinfo
	if proxy != nil {
		// Chrome ignores credentials in --proxy-server; they are answered via
		// the Fetch domain instead.
		server := *proxy
		user = server.User
		server.User = nil
		opts = append(opts, chromedp.ProxyServer(server.String()))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var actions []chromedp.Action
	if user != nil {
		listenProxyAuth(tabCtx, user)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	if waitSelector == "" {
		waitSelector = "body"
	}
	var html string
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitVisible(waitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}

func listenProxyAuth(ctx context.Context, user *url.Userinfo) {
	password, _ := user.Password()
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: user.Username(),
					Password: password,
				}))
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueRequest(ev.RequestID))
			}()
		}
	})
}
