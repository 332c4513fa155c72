package dispatch

import (
	"context"
	"errors"

	"github.com/eraser-privacy/dataremoval/internal/email"
	"github.com/eraser-privacy/dataremoval/internal/target"
	"github.com/eraser-privacy/dataremoval/internal/template"
)

// EmailHandler renders the target's template and sends it from the user's
// address.
type EmailHandler struct {
	Templates *template.Loader
	Sender    email.Sender
	UI        UI
}

func (h *EmailHandler) Handle(ctx context.Context, rc *Context, t target.Target) (Outcome, error) {
	k := t.Kind.(target.Email)
	h.UI.Step("Preparing email for %s (%s)...", t.Name, k.Contact)

	rendered, err := h.Templates.RenderEmail(k.Template, rc.Values(t.Country))
	if err != nil {
		h.UI.Fail("Error processing template %s: %v", k.Template, err)
		return failed(err), nil
	}

	result := h.Sender.Send(ctx, email.Message{
		From:    rc.Email,
		To:      k.Contact,
		Subject: rendered.Subject,
		Body:    rendered.Body,
	})
	if result.Success {
		h.UI.Success("Email successfully sent to %s!", k.Contact)
		return sent(result.MessageID), nil
	}

	err = result.Error
	if err == nil {
		err = errors.New("message was not accepted")
	}
	if isFatal(err) {
		return Outcome{}, err
	}
	if errors.Is(err, email.ErrAuth) {
		h.UI.Fail("Authentication failed. Check email/password.")
	} else {
		h.UI.Fail("Error sending to %s: %v", k.Contact, err)
	}
	return failed(err), nil
}

// ManualHandler shows where and how to file a request the user has to make
// themselves, typically behind an e-ID login.
type ManualHandler struct {
	UI UI
}

func (h *ManualHandler) Handle(_ context.Context, _ *Context, t target.Target) (Outcome, error) {
	h.UI.Section("Manual Action Required for " + t.Name)
	h.UI.Println("[*] URL: %s", t.URL())
	if t.Notes != "" {
		h.UI.Println("[*] Notes: %s", t.Notes)
	}
	if err := h.UI.WaitEnter("Press Enter to continue..."); err != nil {
		return Outcome{}, err
	}
	return handled(), nil
}
