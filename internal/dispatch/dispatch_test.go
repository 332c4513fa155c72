package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eraser-privacy/dataremoval/internal/browser"
	"github.com/eraser-privacy/dataremoval/internal/console"
	"github.com/eraser-privacy/dataremoval/internal/email"
	"github.com/eraser-privacy/dataremoval/internal/history"
	"github.com/eraser-privacy/dataremoval/internal/identity"
	"github.com/eraser-privacy/dataremoval/internal/target"
	"github.com/eraser-privacy/dataremoval/internal/template"
)

type fakeSender struct {
	sent []email.Message
	err  error
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) Send(_ context.Context, msg email.Message) email.Result {
	if s.err != nil {
		return email.Result{Error: s.err}
	}
	s.sent = append(s.sent, msg)
	return email.Result{Success: true, MessageID: "<id@test>"}
}

type fakeSession struct {
	calls    []string
	fillErr  map[string]error
	clickErr map[string]error
	waitErr  error
	html     string
	closed   bool
}

func (s *fakeSession) Navigate(url string) error {
	s.calls = append(s.calls, "navigate "+url)
	return nil
}

func (s *fakeSession) DismissConsent() bool {
	s.calls = append(s.calls, "consent")
	return false
}

func (s *fakeSession) Fill(selector, value string) error {
	if err := s.fillErr[selector]; err != nil {
		return err
	}
	s.calls = append(s.calls, "fill "+selector+"="+value)
	return nil
}

func (s *fakeSession) Click(selector string) error {
	if err := s.clickErr[selector]; err != nil {
		return err
	}
	s.calls = append(s.calls, "click "+selector)
	return nil
}

func (s *fakeSession) WaitLocation(url string, _ time.Duration) error {
	if s.waitErr != nil {
		return s.waitErr
	}
	s.calls = append(s.calls, "wait "+url)
	return nil
}

func (s *fakeSession) HTML() (string, error) { return s.html, nil }

func (s *fakeSession) Close() { s.closed = true }

type fakeOpener struct {
	session *fakeSession
	err     error
	opened  int
}

func (o *fakeOpener) Open(context.Context) (browser.Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opened++
	return o.session, nil
}

type fakeRecorder struct {
	records []history.Record
}

func (r *fakeRecorder) Add(rec *history.Record) error {
	r.records = append(r.records, *rec)
	return nil
}

func newUI(input string) (*console.Console, *bytes.Buffer) {
	var out bytes.Buffer
	return console.New(strings.NewReader(input), &out), &out
}

func newLoader(t *testing.T) *template.Loader {
	t.Helper()
	dir := t.TempDir()
	content := "Subject: Removal request\nName: {full_name}\nID: {personnummer}\nReply to: {email}\nRef: {missing}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "removal.txt"), []byte(content), 0o644))
	return template.NewLoader(dir)
}

func runContext() *Context {
	return &Context{
		FullName: "Anna Andersson",
		Email:    "anna@example.com",
		Identifiers: identity.Identifiers{
			"SE": {"personnummer": "199001011234", "city": ""},
		},
	}
}

func TestContextValues(t *testing.T) {
	rc := runContext()

	assert.Equal(t, map[string]string{
		"full_name":    "Anna Andersson",
		"email":        "anna@example.com",
		"personnummer": "199001011234",
	}, rc.Values("SE"))

	assert.Equal(t, map[string]string{
		"full_name": "Anna Andersson",
		"email":     "anna@example.com",
	}, rc.Values("US"))

	empty := &Context{}
	assert.Empty(t, empty.Values("SE"))
}

func TestRunEmailAndManual(t *testing.T) {
	ui, out := newUI("\n")
	sender := &fakeSender{}
	rec := &fakeRecorder{}

	d := New(Handlers{
		Email:     &EmailHandler{Templates: newLoader(t), Sender: sender, UI: ui},
		ManualEID: &ManualHandler{UI: ui},
	}, ui, WithPause(0), WithRecorder(rec, "run-1"))

	targets := []target.Target{
		{Name: "Eniro", Country: "SE", Type: target.TypeEmail, Kind: target.Email{Contact: "privacy@eniro.example", Template: "removal"}},
		{Name: "Skatteverket", Country: "SE", Type: target.TypeManualEID, Notes: "Log in with BankID.", Kind: target.ManualEID{URL: "https://skatteverket.example/sekretess"}},
	}

	summary, err := d.Run(context.Background(), runContext(), targets)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "anna@example.com", msg.From)
	assert.Equal(t, "privacy@eniro.example", msg.To)
	assert.Equal(t, "Removal request", msg.Subject)
	assert.Equal(t, "Name: Anna Andersson\nID: 199001011234\nReply to: anna@example.com\nRef: ", msg.Body)

	text := out.String()
	assert.Contains(t, text, "--- Processing 1/2: Eniro ---")
	assert.Contains(t, text, "[*] Preparing email for Eniro (privacy@eniro.example)...")
	assert.Contains(t, text, "[+] Email successfully sent to privacy@eniro.example!")
	assert.Contains(t, text, "--- Processing 2/2: Skatteverket ---")
	assert.Contains(t, text, "--- Manual Action Required for Skatteverket ---")
	assert.Contains(t, text, "[*] URL: https://skatteverket.example/sekretess")
	assert.Contains(t, text, "[*] Notes: Log in with BankID.")
	assert.Contains(t, text, "Press Enter to continue...")

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, map[history.Status]int{history.StatusSent: 1, history.StatusHandled: 1}, summary.Outcomes)
	require.Len(t, rec.records, 2)
	assert.Equal(t, "run-1", rec.records[0].RunID)
	assert.Equal(t, history.StatusSent, rec.records[0].Status)
	assert.Equal(t, "manual_eid", rec.records[1].TargetType)
}

func TestRunEmailWithoutTemplateContinues(t *testing.T) {
	ui, out := newUI("\n")
	sender := &fakeSender{}
	rec := &fakeRecorder{}
	d := New(Handlers{
		Email:     &EmailHandler{Templates: newLoader(t), Sender: sender, UI: ui},
		ManualEID: &ManualHandler{UI: ui},
	}, ui, WithPause(0), WithRecorder(rec, "run-2"))

	targets := []target.Target{
		{Name: "B", Country: "SE", Type: target.TypeEmail, Kind: target.Email{Contact: "p@b.se"}},
		{Name: "Skatteverket", Country: "SE", Type: target.TypeManualEID, Kind: target.ManualEID{URL: "skatteverket.se/skydd"}},
	}

	summary, err := d.Run(context.Background(), runContext(), targets)
	require.NoError(t, err)

	assert.Empty(t, sender.sent)
	assert.Contains(t, out.String(), "Error processing template")
	assert.Contains(t, out.String(), "[*] URL: skatteverket.se/skydd")
	assert.Equal(t, map[history.Status]int{history.StatusFailed: 1, history.StatusHandled: 1}, summary.Outcomes)
	require.Len(t, rec.records, 2)
	assert.Equal(t, "B", rec.records[0].TargetName)
	assert.Equal(t, history.StatusFailed, rec.records[0].Status)
}

func TestRunSkipsUnknownType(t *testing.T) {
	ui, out := newUI("\n")
	d := New(Handlers{ManualEID: &ManualHandler{UI: ui}}, ui, WithPause(0))

	targets := []target.Target{
		{Name: "Fax Corp", Country: "US", Type: "fax"},
		{Name: "Manual", Country: "SE", Type: target.TypeManualEID, Kind: target.ManualEID{URL: "https://m.example"}},
	}

	summary, err := d.Run(context.Background(), runContext(), targets)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Unknown type 'fax'. Skipping.")
	assert.Contains(t, out.String(), "Manual Action Required for Manual")
	assert.Equal(t, 1, summary.Outcomes[history.StatusSkipped])
	assert.Equal(t, 1, summary.Outcomes[history.StatusHandled])
}

func TestRunRecoversFromPanic(t *testing.T) {
	ui, out := newUI("\n")
	boom := HandlerFunc(func(context.Context, *Context, target.Target) (Outcome, error) {
		panic("selector exploded")
	})
	d := New(Handlers{Email: boom, ManualEID: &ManualHandler{UI: ui}}, ui, WithPause(0))

	targets := []target.Target{
		{Name: "A", Type: target.TypeEmail, Kind: target.Email{Contact: "a@example.com", Template: "x"}},
		{Name: "B", Type: target.TypeManualEID, Kind: target.ManualEID{URL: "https://b.example"}},
	}

	summary, err := d.Run(context.Background(), runContext(), targets)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Unexpected error: selector exploded")
	assert.Equal(t, 1, summary.Outcomes[history.StatusFailed])
	assert.Equal(t, 1, summary.Outcomes[history.StatusHandled])
}

func TestRunStopsWhenInputCloses(t *testing.T) {
	ui, _ := newUI("")
	d := New(Handlers{ManualEID: &ManualHandler{UI: ui}}, ui, WithPause(0))

	targets := []target.Target{
		{Name: "A", Type: target.TypeManualEID, Kind: target.ManualEID{URL: "https://a.example"}},
		{Name: "B", Type: target.TypeManualEID, Kind: target.ManualEID{URL: "https://b.example"}},
	}

	_, err := d.Run(context.Background(), runContext(), targets)
	assert.ErrorIs(t, err, console.ErrAborted)
}

func TestRunCancelledContext(t *testing.T) {
	ui, _ := newUI("")
	d := New(Handlers{}, ui)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, runContext(), []target.Target{{Name: "A", Type: "fax"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmailHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		sendErr  error
		message  string
	}{
		{"auth failure", "removal", email.ErrAuth, "Authentication failed. Check email/password."},
		{"connection failure", "removal", errors.New("dial tcp: connection refused"), "Error sending to dpo@example.com: dial tcp: connection refused"},
		{"missing template", "nope", nil, "Error processing template nope:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ui, out := newUI("")
			h := &EmailHandler{Templates: newLoader(t), Sender: &fakeSender{err: tt.sendErr}, UI: ui}
			tg := target.Target{Name: "X", Country: "SE", Type: target.TypeEmail, Kind: target.Email{Contact: "dpo@example.com", Template: tt.template}}

			outcome, err := h.Handle(context.Background(), runContext(), tg)
			require.NoError(t, err)
			assert.Equal(t, history.StatusFailed, outcome.Status)
			assert.Contains(t, out.String(), tt.message)
		})
	}
}

func TestWebFormHandler(t *testing.T) {
	ui, out := newUI("\n\n")
	session := &fakeSession{html: `<body><div class="g-recaptcha"></div></body>`}
	opener := &fakeOpener{session: session}
	h := &WebFormHandler{Opener: opener, UI: ui}

	tg := target.Target{Name: "Hitta", Country: "SE", Type: target.TypeWebForm, Kind: target.WebForm{
		URL: "https://hitta.example/remove",
		Fields: []target.Field{
			{Name: "full_name", Selector: "#name"},
			{Name: "phone", Selector: "#phone"},
			{Name: "personnummer", Selector: "#pnr"},
		},
	}}

	outcome, err := h.Handle(context.Background(), runContext(), tg)
	require.NoError(t, err)
	assert.Equal(t, history.StatusHandled, outcome.Status)
	assert.Equal(t, []string{
		"navigate https://hitta.example/remove",
		"consent",
		"fill #name=Anna Andersson",
		"fill #pnr=199001011234",
	}, session.calls)
	assert.True(t, session.closed)

	text := out.String()
	assert.Contains(t, text, "Processing web form for Hitta...")
	assert.Contains(t, text, "Google reCAPTCHA")
	assert.Contains(t, text, "Details filled. Complete the process in the browser.")
	assert.Contains(t, text, "[+] Marked as handled.")
}

func TestWebFormHandlerFieldTimeoutStopsFilling(t *testing.T) {
	ui, out := newUI("\n\n")
	session := &fakeSession{fillErr: map[string]error{"#name": browser.ErrTimeout}}
	h := &WebFormHandler{Opener: &fakeOpener{session: session}, UI: ui}

	tg := target.Target{Name: "Hitta", Country: "SE", Type: target.TypeWebForm, Kind: target.WebForm{
		URL: "https://hitta.example/remove",
		Fields: []target.Field{
			{Name: "full_name", Selector: "#name"},
			{Name: "email", Selector: "#email"},
		},
	}}

	outcome, err := h.Handle(context.Background(), runContext(), tg)
	require.NoError(t, err)
	assert.Equal(t, history.StatusHandled, outcome.Status)
	assert.Contains(t, out.String(), "Timeout for 'full_name' (#name).")
	assert.NotContains(t, session.calls, "fill #email=anna@example.com")
}

func TestWebFormHandlerOpenFailure(t *testing.T) {
	ui, out := newUI("\n")
	h := &WebFormHandler{Opener: &fakeOpener{err: browser.ErrNoBrowser}, UI: ui}
	tg := target.Target{Name: "Hitta", Type: target.TypeWebForm, Kind: target.WebForm{URL: "https://hitta.example"}}

	outcome, err := h.Handle(context.Background(), runContext(), tg)
	require.NoError(t, err)
	assert.Equal(t, history.StatusFailed, outcome.Status)
	assert.Contains(t, out.String(), "Browser error:")
}

func TestMrKollHandler(t *testing.T) {
	const url = "https://mrkoll.example/minsida"
	tg := target.Target{Name: "MrKoll", Country: "SE", Type: target.TypeMrKoll, Notes: "Requires BankID.", Kind: target.MrKollFlow{URL: url}}

	t.Run("completes", func(t *testing.T) {
		ui, out := newUI("\n\n")
		session := &fakeSession{}
		h := &MrKollHandler{Opener: &fakeOpener{session: session}, UI: ui, LoginTimeout: 2 * time.Minute}

		outcome, err := h.Handle(context.Background(), runContext(), tg)
		require.NoError(t, err)
		assert.Equal(t, history.StatusHandled, outcome.Status)
		assert.Equal(t, []string{
			"navigate " + url,
			"click " + mrkollLoginButton,
			"wait " + url,
			"click " + mrkollHideButton,
		}, session.calls)

		text := out.String()
		assert.Contains(t, text, "[*] Notes: Requires BankID.")
		assert.Contains(t, text, "Press Enter to open browser and begin...")
		assert.Contains(t, text, "[2/3] Please complete BankID on your mobile device (waiting up to 2 minutes)...")
		assert.Contains(t, text, "BankID login successful.")
		assert.Contains(t, text, "MrKoll.se flow completed successfully!")
	})

	t.Run("login times out", func(t *testing.T) {
		ui, out := newUI("\n\n")
		session := &fakeSession{waitErr: browser.ErrTimeout}
		h := &MrKollHandler{Opener: &fakeOpener{session: session}, UI: ui, LoginTimeout: time.Minute}

		outcome, err := h.Handle(context.Background(), runContext(), tg)
		require.NoError(t, err)
		assert.Equal(t, history.StatusTimeout, outcome.Status)
		assert.Contains(t, out.String(), "The process timed out. BankID login may have taken too long.")
		assert.NotContains(t, session.calls, "click "+mrkollHideButton)
		assert.True(t, session.closed)
	})
}

func TestRatsitHandler(t *testing.T) {
	ui, out := newUI("\n\n")
	session := &fakeSession{}
	h := &RatsitHandler{Opener: &fakeOpener{session: session}, UI: ui}
	tg := target.Target{Name: "Ratsit", Country: "SE", Type: target.TypeRatsit, Kind: target.RatsitFlow{URL: "https://ratsit.example/login"}}

	outcome, err := h.Handle(context.Background(), runContext(), tg)
	require.NoError(t, err)
	assert.Equal(t, history.StatusHandled, outcome.Status)
	assert.Equal(t, []string{"navigate https://ratsit.example/login", "click " + ratsitBankIDButton}, session.calls)
	assert.Contains(t, out.String(), "[2/2] The BankID process is now active in the browser.")
	assert.Contains(t, out.String(), "Ratsit.se flow marked as handled.")
}

func TestBrowserUnavailable(t *testing.T) {
	ui, out := newUI("")
	h := &BrowserUnavailable{UI: ui, Reason: browser.ErrNoBrowser}
	tg := target.Target{Name: "Hitta", Type: target.TypeWebForm, Kind: target.WebForm{URL: "https://hitta.example"}}

	outcome, err := h.Handle(context.Background(), runContext(), tg)
	require.NoError(t, err)
	assert.Equal(t, history.StatusSkipped, outcome.Status)
	assert.Contains(t, out.String(), "Skipping Hitta.")
}

func TestDescribeWait(t *testing.T) {
	assert.Equal(t, "2 minutes", describeWait(2*time.Minute))
	assert.Equal(t, "1 minute", describeWait(time.Minute))
	assert.Equal(t, "1m30s", describeWait(90*time.Second))
}
