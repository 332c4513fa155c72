// Package replies reads the user's inbox for answers to removal emails and
// sorts them into what, if anything, still needs doing.
package replies

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/eraser-privacy/dataremoval/internal/config"
	"github.com/eraser-privacy/dataremoval/internal/target"
)

const fetchBatchSize = 50

// Reply is a message received from one of the targets.
type Reply struct {
	UID        uint32
	MessageID  string
	From       string
	FromName   string
	FromDomain string
	Subject    string
	Body       string
	HTMLBody   string
	ReceivedAt time.Time
	TargetName string // empty when the sender matched no target
}

// Mailbox reads replies over IMAP.
type Mailbox struct {
	config  config.IMAPConfig
	login   config.SMTPConfig
	client  *client.Client
	domains map[string]string // sender domain -> target name
	logger  *zap.Logger
}

func NewMailbox(cfg config.IMAPConfig, login config.SMTPConfig, targets []target.Target, logger *zap.Logger) *Mailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{
		config:  cfg,
		login:   login,
		domains: TargetDomains(targets),
		logger:  logger,
	}
}

// TargetDomains maps the mail and web domains of targets to target names,
// so replies from "noreply@mail.eniro.se" still match "eniro.se".
func TargetDomains(targets []target.Target) map[string]string {
	domains := make(map[string]string)
	for _, t := range targets {
		if k, ok := t.Kind.(target.Email); ok {
			if at := strings.LastIndex(k.Contact, "@"); at >= 0 {
				domains[strings.ToLower(k.Contact[at+1:])] = t.Name
			}
		}
		if d := hostOf(t.URL()); d != "" {
			if _, taken := domains[d]; !taken {
				domains[d] = t.Name
			}
		}
	}
	return domains
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// MatchTarget finds the target a sender domain belongs to, walking up
// subdomains until one is known.
func MatchTarget(domains map[string]string, domain string) string {
	domain = strings.ToLower(domain)
	for domain != "" {
		if name, ok := domains[domain]; ok {
			return name
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 || !strings.Contains(domain[dot+1:], ".") {
			return ""
		}
		domain = domain[dot+1:]
	}
	return ""
}

// LinkTarget returns the target whose domain serves link, or "".
func LinkTarget(domains map[string]string, link string) string {
	return MatchTarget(domains, hostOf(link))
}

// Classify classifies r and flags action links that lead off the sending
// target's domains.
func (m *Mailbox) Classify(r *Reply) Classification {
	c := Classify(r)
	if c.ActionURL != "" {
		c.Offsite = LinkTarget(m.domains, c.ActionURL) != r.TargetName
	}
	return c
}

func (m *Mailbox) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	m.logger.Debug("connecting to IMAP server", zap.String("addr", addr))

	c, err := client.DialTLS(addr, &tls.Config{ServerName: m.config.Server})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := ctx.Err(); err != nil {
		c.Logout()
		return err
	}
	if err := c.Login(m.login.Email, m.login.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	m.client = c
	return nil
}

func (m *Mailbox) Close() error {
	if m.client != nil {
		return m.client.Logout()
	}
	return nil
}

// FetchReplies returns messages from the last days days whose sender
// matches a target, oldest first.
func (m *Mailbox) FetchReplies(ctx context.Context, days int) ([]Reply, error) {
	if m.client == nil {
		return nil, fmt.Errorf("not connected to IMAP server")
	}

	mbox, err := m.client.Select(m.config.Folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().AddDate(0, 0, -days)
	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	m.logger.Debug("messages in range", zap.Int("count", len(uids)), zap.Int("days", days))

	var replies []Reply
	for i := 0; i < len(uids); i += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(i+fetchBatchSize, len(uids))

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[i:end]...)
		section := &imap.BodySectionName{Peek: true}

		messages := make(chan *imap.Message, fetchBatchSize)
		done := make(chan error, 1)
		go func() {
			done <- m.client.UidFetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}, messages)
		}()

		for msg := range messages {
			r := m.fromMessage(msg, section)
			if r != nil && r.TargetName != "" {
				replies = append(replies, *r)
			}
		}
		if err := <-done; err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}
	}
	return replies, nil
}

func (m *Mailbox) fromMessage(msg *imap.Message, section *imap.BodySectionName) *Reply {
	if msg == nil || msg.Envelope == nil {
		return nil
	}

	r := &Reply{
		UID:        msg.Uid,
		MessageID:  msg.Envelope.MessageId,
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
	}
	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		r.From = from.Address()
		r.FromName = from.PersonalName
		r.FromDomain = strings.ToLower(from.HostName)
	}
	r.TargetName = MatchTarget(m.domains, r.FromDomain)
	if r.TargetName == "" {
		return r
	}

	if body := msg.GetBody(section); body != nil {
		if err := ReadBody(body, r); err != nil {
			m.logger.Debug("failed to parse message body", zap.Uint32("uid", msg.Uid), zap.Error(err))
		}
	}
	return r
}

// ReadBody fills the plain and HTML bodies of r from a raw RFC 5322
// message. The first part of each kind wins.
func ReadBody(raw io.Reader, r *Reply) error {
	mr, err := mail.CreateReader(raw)
	if err != nil {
		return err
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(ct, "text/plain") && r.Body == "":
			r.Body = string(body)
		case strings.HasPrefix(ct, "text/html") && r.HTMLBody == "":
			r.HTMLBody = string(body)
		}
	}
}
