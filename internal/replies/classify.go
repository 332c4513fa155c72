package replies

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind is what a reply means for the removal request.
type Kind string

const (
	KindRemoved        Kind = "removed"         // data deleted or hidden
	KindActionRequired Kind = "action_required" // form, identity check or confirmation link
	KindRejected       Kind = "rejected"
	KindPending        Kind = "pending" // acknowledged, no decision yet
	KindBounced        Kind = "bounced"
	KindUnknown        Kind = "unknown"
)

// Classification is the verdict on one reply.
type Classification struct {
	Reply     *Reply
	Kind      Kind
	ActionURL string // link to follow for KindActionRequired, if any
	// Offsite is set when ActionURL points away from the target's own
	// domains.
	Offsite bool
	Score   int
}

// Swedish phrases sit next to the English ones; most targets in the
// default list answer in Swedish.
var (
	removedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(successfully|have\s+been|has\s+been)\s+(removed|deleted|erased)`),
		regexp.MustCompile(`(?i)we\s+have\s+(removed|deleted|erased)`),
		regexp.MustCompile(`(?i)request\s+(has\s+been\s+)?(completed|fulfilled)`),
		regexp.MustCompile(`(?i)no\s+longer\s+(appear|be\s+(shown|visible|listed))`),
		regexp.MustCompile(`(?i)(har|är)\s+(nu\s+)?(raderats|raderade|tagits\s+bort|borttagna|dolda|dolts)`),
		regexp.MustCompile(`(?i)vi\s+har\s+(nu\s+)?(raderat|tagit\s+bort|dolt)`),
	}

	actionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)please\s+(complete|fill\s*(out|in)?|submit|use)\s+(the|our|this)?\s*(online\s+)?(form|request|portal)`),
		regexp.MustCompile(`(?i)(verify|confirm)\s+your\s+(identity|email|request)`),
		regexp.MustCompile(`(?i)click\s+(here|below|the\s+link)\s+to\s+(confirm|verify|complete)`),
		regexp.MustCompile(`(?i)(do\s+not|cannot)\s+(accept|process)\s+(privacy\s+)?requests?\s+(via|by)\s+email`),
		regexp.MustCompile(`(?i)(copy\s+of\s+(your\s+)?(id|passport|identification))`),
		regexp.MustCompile(`(?i)(fyll\s+i|använd)\s+(vårt|formuläret|webbformuläret)`),
		regexp.MustCompile(`(?i)(logga\s+in|identifiera\s+dig)\s+(med\s+)?(mobilt\s+)?bankid`),
		regexp.MustCompile(`(?i)bekräfta\s+(din|er)\s+(identitet|begäran|e-post)`),
	}

	rejectedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(cannot|can't|unable\s+to)\s+(process|fulfil+)\s+(your\s+)?request`),
		regexp.MustCompile(`(?i)request\s+(has\s+been\s+)?(denied|rejected|declined)`),
		regexp.MustCompile(`(?i)(do\s+not|don't)\s+(have|hold)\s+any\s+(data|information|records)`),
		regexp.MustCompile(`(?i)no\s+(matching\s+)?(records?|data)\s+(was\s+|were\s+)?found`),
		regexp.MustCompile(`(?i)(utgivningsbevis|grundlagsskydd)`),
		regexp.MustCompile(`(?i)(kan\s+inte|kan\s+ej)\s+(radera|ta\s+bort|tillmötesgå)`),
		regexp.MustCompile(`(?i)(hittade|finns)\s+(inga|ingen)\s+(uppgifter|personuppgifter)`),
	}

	pendingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(request|email)\s+(has\s+been\s+)?(received|acknowledged)`),
		regexp.MustCompile(`(?i)we(\s+will|'ll)\s+(get\s+back|respond|process)`),
		regexp.MustCompile(`(?i)within\s+(30|thirty|one)\s+(days|month)`),
		regexp.MustCompile(`(?i)(ticket|case|ärende)\s*(number|nummer|#)?\s*:?\s*#?\d{3,}`),
		regexp.MustCompile(`(?i)^(automatic\s+reply|auto[\s-]?reply|autosvar|out\s+of\s+office)`),
		regexp.MustCompile(`(?i)(vi\s+har\s+)?(tagit\s+emot|mottagit)\s+(din|er)\s+(begäran|förfrågan|e-post)`),
		regexp.MustCompile(`(?i)(återkommer|hör\s+av\s+oss)`),
	}

	bouncePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)undeliverable`),
		regexp.MustCompile(`(?i)delivery\s+(status\s+notification|has\s+failed|failure)`),
		regexp.MustCompile(`(?i)(could\s+not|couldn't)\s+be\s+delivered`),
		regexp.MustCompile(`(?i)(user|recipient|address)\s+(unknown|not\s+found|rejected)`),
		regexp.MustCompile(`(?i)(mailbox|address)\s+(does\s+not|doesn't)\s+exist`),
		regexp.MustCompile(`(?i)kunde\s+inte\s+levereras`),
	}

	bounceSenders = []string{"mailer-daemon", "postmaster", "mail delivery"}

	urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// Classify scores a reply against each kind. Subject matches weigh three
// times as much as body matches.
func Classify(r *Reply) Classification {
	result := Classification{Reply: r, Kind: KindUnknown}

	subject := strings.ToLower(strings.TrimSpace(r.Subject))
	body := r.Body
	if body == "" {
		body = htmlText(r.HTMLBody)
	}
	body = strings.ToLower(body)

	if isBounce(r, subject, body) {
		result.Kind = KindBounced
		return result
	}

	scores := map[Kind]int{}
	score := func(kind Kind, patterns []*regexp.Regexp) {
		for _, p := range patterns {
			if p.MatchString(subject) {
				scores[kind] += 3
			}
			if p.MatchString(body) {
				scores[kind]++
			}
		}
	}
	score(KindRemoved, removedPatterns)
	score(KindActionRequired, actionPatterns)
	score(KindRejected, rejectedPatterns)
	score(KindPending, pendingPatterns)

	links := Links(r)
	if len(links) > 0 {
		scores[KindActionRequired]++
	}

	// Fixed order so ties resolve the same way every run.
	for _, kind := range []Kind{KindActionRequired, KindRejected, KindRemoved, KindPending} {
		if scores[kind] > result.Score {
			result.Kind = kind
			result.Score = scores[kind]
		}
	}
	if result.Kind == KindActionRequired && len(links) > 0 {
		result.ActionURL = links[0]
	}
	return result
}

func isBounce(r *Reply, subject, body string) bool {
	from := strings.ToLower(r.From + " " + r.FromName)
	fromSystem := false
	for _, s := range bounceSenders {
		if strings.Contains(from, s) {
			fromSystem = true
			break
		}
	}

	hits := 0
	for _, p := range bouncePatterns {
		if p.MatchString(subject) {
			hits += 2
		}
		if p.MatchString(body) {
			hits++
		}
	}
	return (fromSystem && hits > 0) || hits >= 3
}

// htmlText returns the visible text of an HTML body.
func htmlText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Links returns the http(s) links in a reply that look like something to
// act on: forms, verification and login pages. Policy pages and tracking
// links are left out.
func Links(r *Reply) []string {
	var raw []string
	raw = append(raw, urlPattern.FindAllString(r.Body, -1)...)
	if r.HTMLBody != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.HTMLBody)); err == nil {
			doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				if href, ok := s.Attr("href"); ok {
					raw = append(raw, href)
				}
			})
		}
	}

	seen := make(map[string]bool)
	var links []string
	for _, l := range raw {
		l = cleanURL(l)
		if l == "" || seen[l] || !isActionURL(strings.ToLower(l)) {
			continue
		}
		seen[l] = true
		links = append(links, l)
	}
	return links
}

func cleanURL(raw string) string {
	raw = strings.TrimRight(raw, ".,;:!?)")
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

var (
	actionURLHints = []string{
		"opt-out", "optout", "removal", "remove", "delete", "radera", "ta-bort",
		"gdpr", "privacy-request", "dsar", "verify", "confirm", "bekrafta",
		"form", "formular", "bankid", "login",
	}
	ignoredURLHints = []string{
		"privacy-policy", "integritetspolicy", "cookie", "terms", "villkor",
		"unsubscribe", "track", "pixel", "facebook.com", "twitter.com",
		"linkedin.com", "instagram.com", ".pdf",
	}
)

func isActionURL(lower string) bool {
	for _, h := range ignoredURLHints {
		if strings.Contains(lower, h) {
			return false
		}
	}
	for _, h := range actionURLHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// Summarize counts classifications per kind.
func Summarize(results []Classification) map[Kind]int {
	counts := make(map[Kind]int)
	for _, r := range results {
		counts[r.Kind]++
	}
	return counts
}
