// Package browser provides Chrome automation for removal forms and the
// BankID flows
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrTimeout is returned when a page never reached the awaited state.
var ErrTimeout = errors.New("timed out waiting for page")

// ErrNoBrowser is returned when no Chrome or Chromium install can be found.
var ErrNoBrowser = errors.New("no Chrome or Chromium executable found")

const pollInterval = 500 * time.Millisecond

// consentXPath matches buttons whose text contains "accept" or "agree" in
// any case.
const consentXPath = `//button[contains(translate(., 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'accept')]` +
	` | //button[contains(translate(., 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'agree')]`

// Config holds browser automation settings
type Config struct {
	Headless       bool
	Timeout        time.Duration // element waits
	ConsentTimeout time.Duration // cookie banner lookup
	ExecPath       string
	UserAgent      string
	WindowWidth    int
	WindowHeight   int
}

// DefaultConfig returns a visible browser; every flow needs the user to
// look at or finish something in the window.
func DefaultConfig() Config {
	return Config{
		Headless:       false,
		Timeout:        15 * time.Second,
		ConsentTimeout: 5 * time.Second,
		WindowWidth:    1280,
		WindowHeight:   900,
	}
}

// Session is one browser window, used for a single target and then closed.
type Session interface {
	Navigate(url string) error
	// DismissConsent clicks a cookie or consent button if one shows up
	// within the consent timeout. It reports whether it clicked.
	DismissConsent() bool
	Fill(selector, value string) error
	Click(selector string) error
	WaitLocation(url string, timeout time.Duration) error
	HTML() (string, error)
	Close()
}

// Opener starts browser sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Chrome opens sessions in a locally installed Chrome via chromedp.
type Chrome struct {
	config Config
}

func NewChrome(cfg Config) *Chrome {
	return &Chrome{config: cfg}
}

var execCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless_shell",
}

// Check locates the browser executable without starting it.
func (c *Chrome) Check() (string, error) {
	if c.config.ExecPath != "" {
		if _, err := os.Stat(c.config.ExecPath); err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoBrowser, err)
		}
		return c.config.ExecPath, nil
	}
	for _, name := range execCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	switch runtime.GOOS {
	case "darwin":
		app := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(app); err == nil {
			return app, nil
		}
	case "windows":
		for _, p := range []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		} {
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", ErrNoBrowser
}

func (c *Chrome) Open(ctx context.Context) (Session, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.WindowSize(c.config.WindowWidth, c.config.WindowHeight),
	}
	if c.config.Headless {
		opts = append(opts, chromedp.Headless, chromedp.DisableGPU)
	}
	if c.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.config.UserAgent))
	}
	if c.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.config.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing binary fails here, not mid-flow.
	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &chromeSession{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		config:      c.config,
	}, nil
}

type chromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	config      Config
}

func (s *chromeSession) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	err := chromedp.Run(ctx, actions...)
	if errors.Is(err, context.DeadlineExceeded) || (err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return ErrTimeout
	}
	return err
}

func (s *chromeSession) Navigate(url string) error {
	if err := s.run(s.config.Timeout*4, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *chromeSession) DismissConsent() bool {
	err := s.run(s.config.ConsentTimeout, chromedp.Click(consentXPath, chromedp.BySearch, chromedp.NodeVisible))
	if err != nil {
		return false
	}
	time.Sleep(time.Second)
	return true
}

func (s *chromeSession) Fill(selector, value string) error {
	if err := s.run(s.config.Timeout, chromedp.SendKeys(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) Click(selector string) error {
	if err := s.run(s.config.Timeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// WaitLocation polls the current URL until it equals url.
func (s *chromeSession) WaitLocation(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var loc string
		if err := chromedp.Run(ctx, chromedp.Location(&loc)); err == nil && loc == url {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// HTML returns the current page HTML
func (s *chromeSession) HTML() (string, error) {
	var html string
	err := s.run(s.config.Timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Close cleans up browser resources
func (s *chromeSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}
