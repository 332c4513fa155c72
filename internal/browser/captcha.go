package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CaptchaInfo contains information about detected CAPTCHAs
type CaptchaInfo struct {
	Found       bool
	Type        string
	Description string
}

// CaptchaType constants
const (
	CaptchaTypeRecaptcha  = "recaptcha"
	CaptchaTypeHCaptcha   = "hcaptcha"
	CaptchaTypeTurnstile  = "cloudflare_turnstile"
	CaptchaTypeFunCaptcha = "funcaptcha"
	CaptchaTypeCloudflare = "cloudflare_challenge"
	CaptchaTypeUnknown    = "unknown"
)

var captchaWidgets = []struct {
	kind        string
	selector    string
	description string
}{
	{CaptchaTypeRecaptcha, `.g-recaptcha, iframe[src*="recaptcha"], iframe[title*="reCAPTCHA"]`, "Google reCAPTCHA"},
	{CaptchaTypeHCaptcha, `.h-captcha, iframe[src*="hcaptcha.com"]`, "hCaptcha"},
	{CaptchaTypeTurnstile, `.cf-turnstile, iframe[src*="challenges.cloudflare.com"]`, "Cloudflare Turnstile"},
	{CaptchaTypeFunCaptcha, `#FunCaptcha, iframe[src*="arkoselabs"], iframe[src*="funcaptcha"]`, "Arkose FunCaptcha"},
	{CaptchaTypeCloudflare, `#challenge-form, #challenge-running, #cf-challenge-running`, "Cloudflare browser check"},
}

var captchaKeywords = []string{"captcha", "verification code", "security code", "prove you are human", "jag är inte en robot", "i'm not a robot"}

// DetectCaptcha looks for CAPTCHA widgets in page HTML. Known widgets are
// matched by markup; otherwise a few telltale phrases in the visible text
// count as an unknown CAPTCHA.
func DetectCaptcha(html string) CaptchaInfo {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return CaptchaInfo{}
	}

	for _, w := range captchaWidgets {
		if doc.Find(w.selector).Length() > 0 {
			return CaptchaInfo{Found: true, Type: w.kind, Description: w.description}
		}
	}

	var generic CaptchaInfo
	doc.Find("img[src], input[name], input[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"src", "name", "id"} {
			if v, ok := s.Attr(attr); ok && strings.Contains(strings.ToLower(v), "captcha") {
				generic = CaptchaInfo{Found: true, Type: CaptchaTypeUnknown, Description: "CAPTCHA field or image"}
				return false
			}
		}
		return true
	})
	if generic.Found {
		return generic
	}

	doc.Find("script, style, noscript").Remove()
	text := strings.ToLower(doc.Find("body").Text())
	for _, keyword := range captchaKeywords {
		if strings.Contains(text, keyword) {
			return CaptchaInfo{Found: true, Type: CaptchaTypeUnknown, Description: "page mentions " + keyword}
		}
	}
	return CaptchaInfo{}
}
