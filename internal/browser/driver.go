package browser

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/pomelolab/pomelo/internal/spec"
)

// launcher abstracts the driver runtime so session lifecycle logic is
// testable without a real browser.
type launcher interface {
	Start(ctx context.Context) error
	Launch(engine spec.Engine, headless bool) (browserAPI, error)
	Stop() error
}

type browserAPI interface {
	NewContext() (contextAPI, error)
	IsConnected() bool
	Close() error
}

type contextAPI interface {
	NewPage() (pageAPI, error)
	SetDefaultTimeout(d time.Duration)
	Close() error
}

type pageAPI interface {
	Goto(url string, waitUntil spec.WaitEvent, timeout time.Duration) (int, error)
	Fill(locator, text string) error
	Click(locator string) error
	IsVisible(locator string) (bool, error)
	Count(locator string) (int, error)
	TextContent(locator string) (string, error)
	URL() string
	IsClosed() bool
	OnCrash(fn func())
	OnClose(fn func())
	SetDefaultTimeout(d time.Duration)
	Close() error
}

// chromiumArgs returns stability flags. Sandboxing is disabled on Linux so
// chromium survives containerized environments without a working setuid
// helper.
func chromiumArgs() []string {
	var args []string
	if runtime.GOOS == "linux" {
		args = append(args,
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--disable-setuid-sandbox",
			"--no-zygote",
		)
	}
	return append(args, "--disable-blink-features=AutomationControlled")
}

// DetectDisplay reports whether a display is available for headed browsers.
// Called once at process start; the result is injected into launch config
// rather than consulted ambiently.
func DetectDisplay() bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return envDisplay() != ""
}

// pwLauncher is the playwright-backed launcher.
type pwLauncher struct {
	pw *playwright.Playwright
}

func newPlaywrightLauncher() *pwLauncher { return &pwLauncher{} }

func (l *pwLauncher) Start(ctx context.Context) error {
	type startResult struct {
		pw  *playwright.Playwright
		err error
	}
	done := make(chan startResult, 1)
	go func() {
		pw, err := playwright.Run()
		done <- startResult{pw, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("starting driver: %w", res.err)
		}
		l.pw = res.pw
		return nil
	case <-ctx.Done():
		// The runtime may still come up after the deadline; stop it so the
		// process doesn't leak a driver.
		go func() {
			if res := <-done; res.err == nil {
				res.pw.Stop()
			}
		}()
		return fmt.Errorf("starting driver: %w", ctx.Err())
	}
}

func (l *pwLauncher) Launch(engine spec.Engine, headless bool) (browserAPI, error) {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	}

	var bt playwright.BrowserType
	switch engine {
	case spec.EngineFirefox:
		bt = l.pw.Firefox
	case spec.EngineWebkit:
		bt = l.pw.WebKit
	default:
		bt = l.pw.Chromium
		opts.Args = chromiumArgs()
	}

	b, err := bt.Launch(opts)
	if err != nil {
		return nil, err
	}
	return &pwBrowser{b: b}, nil
}

func (l *pwLauncher) Stop() error {
	if l.pw == nil {
		return nil
	}
	return l.pw.Stop()
}

type pwBrowser struct {
	b playwright.Browser
}

func (b *pwBrowser) NewContext() (contextAPI, error) {
	c, err := b.b.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: 1280, Height: 720},
		IgnoreHttpsErrors: playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return &pwContext{c: c}, nil
}

func (b *pwBrowser) IsConnected() bool { return b.b.IsConnected() }
func (b *pwBrowser) Close() error      { return b.b.Close() }

type pwContext struct {
	c playwright.BrowserContext
}

func (c *pwContext) NewPage() (pageAPI, error) {
	p, err := c.c.NewPage()
	if err != nil {
		return nil, err
	}
	return &pwPage{p: p}, nil
}

func (c *pwContext) SetDefaultTimeout(d time.Duration) {
	c.c.SetDefaultTimeout(float64(d.Milliseconds()))
}

func (c *pwContext) Close() error { return c.c.Close() }

type pwPage struct {
	p playwright.Page
}

func (p *pwPage) Goto(url string, waitUntil spec.WaitEvent, timeout time.Duration) (int, error) {
	opts := playwright.PageGotoOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}
	switch waitUntil {
	case spec.WaitLoad:
		opts.WaitUntil = playwright.WaitUntilStateLoad
	case spec.WaitNetworkIdle:
		opts.WaitUntil = playwright.WaitUntilStateNetworkidle
	default:
		opts.WaitUntil = playwright.WaitUntilStateDomcontentloaded
	}

	resp, err := p.p.Goto(url, opts)
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

func (p *pwPage) Fill(locator, text string) error {
	return p.p.Fill(locator, text)
}

func (p *pwPage) Click(locator string) error {
	return p.p.Click(locator)
}

func (p *pwPage) IsVisible(locator string) (bool, error) {
	return p.p.IsVisible(locator)
}

func (p *pwPage) Count(locator string) (int, error) {
	return p.p.Locator(locator).Count()
}

func (p *pwPage) TextContent(locator string) (string, error) {
	return p.p.Locator(locator).TextContent()
}

func (p *pwPage) URL() string    { return p.p.URL() }
func (p *pwPage) IsClosed() bool { return p.p.IsClosed() }

func (p *pwPage) OnCrash(fn func()) {
	p.p.OnCrash(func(playwright.Page) { fn() })
}

func (p *pwPage) OnClose(fn func()) {
	p.p.OnClose(func(playwright.Page) { fn() })
}

func (p *pwPage) SetDefaultTimeout(d time.Duration) {
	p.p.SetDefaultTimeout(float64(d.Milliseconds()))
}

func (p *pwPage) Close() error { return p.p.Close() }
