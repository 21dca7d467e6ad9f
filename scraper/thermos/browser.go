package thermos

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"gift-floors/scraper"
	"gift-floors/utils"
)

// BrowserTransport issues the request from inside a headless Chrome page
// opened on the site origin, so the call carries the site's cookies and
// passes the same checks a visitor's browser would.
type BrowserTransport struct {
	ChromeBin string
	Timeout   time.Duration
	logger    *utils.Logger
}

// NewBrowserTransport creates a BrowserTransport. An empty chromeBin is
// resolved from CHROME_BIN, PATH and the usual install locations.
func NewBrowserTransport(chromeBin string, timeout time.Duration, logger *utils.Logger) *BrowserTransport {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if logger == nil {
		logger = utils.Discard()
	}
	return &BrowserTransport{ChromeBin: chromeBin, Timeout: timeout, logger: logger}
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
	Error  string `json:"error"`
}

func (t *BrowserTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	t.logger.Info("[thermos] Using browser binary: %s", t.ChromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if t.ChromeBin != "" {
		opts = append(opts, chromedp.ExecPath(t.ChromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancelTimeout := context.WithTimeout(browserCtx, t.Timeout)
	defer cancelTimeout()

	script, err := fetchScript(url, body)
	if err != nil {
		return nil, err
	}

	var res fetchResult
	err = chromedp.Run(runCtx,
		chromedp.Navigate(SiteOrigin+"/"),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &scraper.TransientError{Err: fmt.Errorf("thermos: browser: %w", err)}
	}
	if res.Error != "" {
		return nil, &scraper.TransientError{Err: fmt.Errorf("thermos: in-page fetch: %s", res.Error)}
	}
	if err := checkStatus(res.Status, ""); err != nil {
		return nil, err
	}
	return []byte(res.Body), nil
}

// fetchScript builds the in-page POST. Origin and Referer come from the page itself.
func fetchScript(url string, body []byte) (string, error) {
	u, err := json.Marshal(url)
	if err != nil {
		return "", fmt.Errorf("thermos: encoding url: %w", err)
	}
	b, err := json.Marshal(string(body))
	if err != nil {
		return "", fmt.Errorf("thermos: encoding body: %w", err)
	}
	return fmt.Sprintf(`
		(async function() {
			try {
				var r = await fetch(%s, {
					method: 'POST',
					credentials: 'include',
					headers: {'Accept': 'application/json', 'Content-Type': 'application/json'},
					body: %s
				});
				return {status: r.status, body: await r.text(), error: ''};
			} catch (e) {
				return {status: 0, body: '', error: String(e)};
			}
		})()
	`, u, b), nil
}

// chromeCandidates are tried in order, first on PATH and then as absolute paths.
var chromeCandidates = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	"/opt/google/chrome/google-chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// findChromeBinary returns CHROME_BIN or the first installed candidate,
// or "" to let chromedp use its own lookup.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	for _, c := range chromeCandidates {
		if filepath.IsAbs(c) {
			if _, err := os.Stat(c); err == nil {
				return c
			}
			continue
		}
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return ""
}
