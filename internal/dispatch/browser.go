package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eraser-privacy/dataremoval/internal/browser"
	"github.com/eraser-privacy/dataremoval/internal/target"
)

// WebFormHandler opens a removal form, fills in what we know and leaves
// submission to the user.
type WebFormHandler struct {
	Opener browser.Opener
	UI     UI
	Logger *zap.Logger
}

func (h *WebFormHandler) Handle(ctx context.Context, rc *Context, t target.Target) (Outcome, error) {
	k := t.Kind.(target.WebForm)
	h.UI.Println("")
	h.UI.Step("Processing web form for %s...", t.Name)
	if err := h.UI.WaitEnter("Press Enter to open browser..."); err != nil {
		return Outcome{}, err
	}

	session, err := h.Opener.Open(ctx)
	if err != nil {
		return browserError(h.UI, err)
	}
	defer session.Close()

	if err := session.Navigate(k.URL); err != nil {
		return browserError(h.UI, err)
	}
	if session.DismissConsent() && h.Logger != nil {
		h.Logger.Debug("dismissed consent banner", zap.String("url", k.URL))
	}

	values := rc.Values(t.Country)
	for _, f := range k.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if err := session.Fill(f.Selector, v); err != nil {
			if errors.Is(err, browser.ErrTimeout) {
				h.UI.Fail("Timeout for '%s' (%s).", f.Name, f.Selector)
				break
			}
			return browserError(h.UI, err)
		}
	}

	if html, err := session.HTML(); err == nil {
		if c := browser.DetectCaptcha(html); c.Found {
			h.UI.Warn("This page has a CAPTCHA (%s). Solve it in the browser before submitting.", c.Description)
		}
	}

	h.UI.Println("")
	h.UI.Info("Details filled. Complete the process in the browser.")
	if err := h.UI.WaitEnter("Press Enter once submitted..."); err != nil {
		return Outcome{}, err
	}
	h.UI.Success("Marked as handled.")
	return handled(), nil
}

func browserError(ui UI, err error) (Outcome, error) {
	if isFatal(err) {
		return Outcome{}, err
	}
	ui.Fail("Browser error: %v", err)
	return failed(err), nil
}

// MrKoll selectors, as of the current site layout.
const (
	mrkollLoginButton = "div.csBtn1[onclick*='requestLogin']"
	mrkollHideButton  = "div#abtn.bankID_button"
)

// MrKollHandler logs in to MrKoll.se with Mobilt BankID and hides the
// user's address information.
type MrKollHandler struct {
	Opener       browser.Opener
	UI           UI
	LoginTimeout time.Duration
	// Settle is the delay between the login redirect and the next click.
	Settle time.Duration
}

func (h *MrKollHandler) Handle(ctx context.Context, _ *Context, t target.Target) (Outcome, error) {
	k := t.Kind.(target.MrKollFlow)
	if err := startFlow(h.UI, t); err != nil {
		return Outcome{}, err
	}

	session, err := h.Opener.Open(ctx)
	if err != nil {
		return flowError(h.UI, err)
	}
	defer session.Close()

	if err := session.Navigate(k.URL); err != nil {
		return flowError(h.UI, err)
	}
	h.UI.Println("[1/3] Clicking 'Starta inloggning med Mobilt BankID'...")
	if err := session.Click(mrkollLoginButton); err != nil {
		return flowError(h.UI, err)
	}

	h.UI.Info("[2/3] Please complete BankID on your mobile device (waiting up to %s)...", describeWait(h.LoginTimeout))
	if err := session.WaitLocation(k.URL, h.LoginTimeout); err != nil {
		return flowError(h.UI, err)
	}
	h.UI.Success("BankID login successful.")

	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-time.After(h.Settle):
	}

	h.UI.Println("[3/3] Clicking 'Dölj' to hide address information...")
	if err := session.Click(mrkollHideButton); err != nil {
		return flowError(h.UI, err)
	}
	h.UI.Println("")
	h.UI.Success("MrKoll.se flow completed successfully!")
	if err := h.UI.WaitEnter("Press Enter to continue..."); err != nil {
		return Outcome{}, err
	}
	return handled(), nil
}

const ratsitBankIDButton = "button[data-ga-event-label*='Validera BankID på annan enhet']"

// RatsitHandler starts the Mobilt BankID login on Ratsit.se. The user
// finishes the removal in the browser.
type RatsitHandler struct {
	Opener browser.Opener
	UI     UI
}

func (h *RatsitHandler) Handle(ctx context.Context, _ *Context, t target.Target) (Outcome, error) {
	k := t.Kind.(target.RatsitFlow)
	if err := startFlow(h.UI, t); err != nil {
		return Outcome{}, err
	}

	session, err := h.Opener.Open(ctx)
	if err != nil {
		return flowError(h.UI, err)
	}
	defer session.Close()

	if err := session.Navigate(k.URL); err != nil {
		return flowError(h.UI, err)
	}
	h.UI.Println("[1/2] Clicking the 'Mobilt BankID' button...")
	if err := session.Click(ratsitBankIDButton); err != nil {
		return flowError(h.UI, err)
	}

	h.UI.Info("[2/2] The BankID process is now active in the browser.")
	h.UI.Println("Please complete the login on your mobile device to finalize.")
	if err := h.UI.WaitEnter("Press Enter here once you are finished..."); err != nil {
		return Outcome{}, err
	}
	h.UI.Success("Ratsit.se flow marked as handled.")
	return handled(), nil
}

func startFlow(ui UI, t target.Target) error {
	ui.Println("")
	ui.Step("Starting automated flow for %s...", t.Name)
	if t.Notes != "" {
		ui.Println("[*] Notes: %s", t.Notes)
	}
	return ui.WaitEnter("Press Enter to open browser and begin...")
}

// flowError reports a failed BankID flow. A timeout still waits for the
// user so the browser stays open until they have read the message.
func flowError(ui UI, err error) (Outcome, error) {
	if isFatal(err) {
		return Outcome{}, err
	}
	if !errors.Is(err, browser.ErrTimeout) {
		ui.Fail("An unexpected error occurred: %v", err)
		return failed(err), nil
	}
	ui.Fail("The process timed out. BankID login may have taken too long.")
	if err := ui.WaitEnter("Press Enter to continue..."); err != nil {
		return Outcome{}, err
	}
	return timedOut(err.Error()), nil
}

func describeWait(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}

// BrowserUnavailable stands in for the browser handlers when no usable
// Chrome was found at startup.
type BrowserUnavailable struct {
	UI     UI
	Reason error
}

func (h *BrowserUnavailable) Handle(_ context.Context, _ *Context, t target.Target) (Outcome, error) {
	h.UI.Fail("Browser automation is unavailable (%v). Skipping %s.", h.Reason, t.Name)
	return skipped("browser unavailable"), nil
}
