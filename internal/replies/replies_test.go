package replies

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eraser-privacy/dataremoval/internal/config"
	"github.com/eraser-privacy/dataremoval/internal/target"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		reply    Reply
		expected Kind
	}{
		{
			name:     "english removal confirmed",
			reply:    Reply{Subject: "Re: GDPR request", Body: "We have removed your listing. It will no longer appear in search results."},
			expected: KindRemoved,
		},
		{
			name:     "swedish removal confirmed",
			reply:    Reply{Subject: "Sv: Begäran om radering", Body: "Hej! Dina uppgifter har nu raderats från vår tjänst."},
			expected: KindRemoved,
		},
		{
			name:     "swedish publishing certificate rejection",
			reply:    Reply{Subject: "Sv: Radering", Body: "Vi har utgivningsbevis och omfattas av grundlagsskydd. Vi kan inte radera uppgifterna."},
			expected: KindRejected,
		},
		{
			name:     "english no data held",
			reply:    Reply{Subject: "Your privacy request", Body: "We searched our systems and no matching records were found."},
			expected: KindRejected,
		},
		{
			name:     "form required with link",
			reply:    Reply{Subject: "Re: Removal", Body: "We do not accept privacy requests via email. Please use our online form: https://broker.example/opt-out?ref=1."},
			expected: KindActionRequired,
		},
		{
			name:     "swedish bankid login",
			reply:    Reply{Subject: "Sv: GDPR", Body: "Logga in med Mobilt BankID på vår webbplats för att dölja dina uppgifter."},
			expected: KindActionRequired,
		},
		{
			name:     "acknowledged with ticket",
			reply:    Reply{Subject: "Request received [Ticket #48213]", Body: "Thank you. We'll get back to you within 30 days."},
			expected: KindPending,
		},
		{
			name:     "swedish autoreply",
			reply:    Reply{Subject: "Autosvar: Begäran om radering", Body: "Vi har tagit emot din begäran och återkommer så snart vi kan."},
			expected: KindPending,
		},
		{
			name:     "bounce from mailer daemon",
			reply:    Reply{From: "MAILER-DAEMON@mx.example", Subject: "Undeliverable: GDPR request", Body: "Recipient address rejected: user unknown"},
			expected: KindBounced,
		},
		{
			name:     "nothing recognizable",
			reply:    Reply{Subject: "Hello", Body: "Nice weather today."},
			expected: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&tt.reply)
			assert.Equal(t, tt.expected, got.Kind)
		})
	}
}

func TestClassifyActionURL(t *testing.T) {
	r := &Reply{
		Subject:  "Re: removal",
		HTMLBody: `<p>Please complete the form <a href="https://broker.example/removal-form">here</a>. See our <a href="https://broker.example/privacy-policy">policy</a>.</p>`,
	}
	got := Classify(r)
	assert.Equal(t, KindActionRequired, got.Kind)
	assert.Equal(t, "https://broker.example/removal-form", got.ActionURL)
}

func TestLinks(t *testing.T) {
	r := &Reply{
		Body:     "Verify at https://site.example/verify?token=abc, or read https://site.example/terms.",
		HTMLBody: `<a href="https://site.example/verify?token=abc">verify</a><a href="mailto:x@y.z">mail</a><a href="https://t.example/track/1">x</a>`,
	}
	assert.Equal(t, []string{"https://site.example/verify?token=abc"}, Links(r))
}

func TestTargetDomainsAndMatch(t *testing.T) {
	targets := []target.Target{
		{Name: "Eniro", Type: target.TypeEmail, Kind: target.Email{Contact: "dataskydd@eniro.se", Template: "gdpr_se"}},
		{Name: "Hitta", Type: target.TypeWebForm, Kind: target.WebForm{URL: "https://www.hitta.se/kontakt/radera"}},
		{Name: "Unknown", Type: "fax"},
	}
	domains := TargetDomains(targets)
	assert.Equal(t, map[string]string{"eniro.se": "Eniro", "hitta.se": "Hitta"}, domains)

	assert.Equal(t, "Eniro", MatchTarget(domains, "eniro.se"))
	assert.Equal(t, "Eniro", MatchTarget(domains, "Mail.Eniro.se"))
	assert.Equal(t, "Hitta", MatchTarget(domains, "support.hitta.se"))
	assert.Equal(t, "", MatchTarget(domains, "example.se"))
	assert.Equal(t, "", MatchTarget(domains, "se"))
	assert.Equal(t, "", MatchTarget(domains, ""))

	assert.Equal(t, "Hitta", LinkTarget(domains, "https://kundservice.hitta.se/radera"))
	assert.Equal(t, "", LinkTarget(domains, "https://hitta-se.example/radera"))
}

func TestMailboxClassifyOffsite(t *testing.T) {
	targets := []target.Target{
		{Name: "Eniro", Type: target.TypeEmail, Kind: target.Email{Contact: "dataskydd@eniro.se"}},
	}
	m := NewMailbox(config.IMAPConfig{}, config.SMTPConfig{}, targets, nil)

	onsite := m.Classify(&Reply{TargetName: "Eniro", Body: "Please use our form: https://www.eniro.se/radera"})
	assert.Equal(t, KindActionRequired, onsite.Kind)
	assert.False(t, onsite.Offsite)

	offsite := m.Classify(&Reply{TargetName: "Eniro", Body: "Please use our form: https://eniro-support.example/radera"})
	assert.Equal(t, KindActionRequired, offsite.Kind)
	assert.True(t, offsite.Offsite)
}

func TestReadBody(t *testing.T) {
	raw := strings.Join([]string{
		"From: Eniro <dataskydd@eniro.se>",
		"To: anna@example.com",
		"Subject: =?utf-8?q?Sv=3A_Beg=C3=A4ran?=",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Dina uppgifter har raderats.",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Dina uppgifter har raderats.</p>",
		"--b1--",
		"",
	}, "\r\n")

	var r Reply
	require.NoError(t, ReadBody(strings.NewReader(raw), &r))
	assert.Equal(t, "Dina uppgifter har raderats.", strings.TrimSpace(r.Body))
	assert.Contains(t, r.HTMLBody, "<p>Dina uppgifter har raderats.</p>")
}

func TestSummarize(t *testing.T) {
	counts := Summarize([]Classification{{Kind: KindRemoved}, {Kind: KindRemoved}, {Kind: KindPending}})
	assert.Equal(t, map[Kind]int{KindRemoved: 2, KindPending: 1}, counts)
}
