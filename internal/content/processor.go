// Package content rewrites campaign HTML for engagement tracking. Processing
// is a pure function of its inputs: no I/O, no state, identical output for
// identical arguments.
package content

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// hrefPattern matches http(s) hrefs inside anchor tags only, so hrefs on
// other elements (stylesheet links, base tags) are left alone.
var hrefPattern = regexp.MustCompile(`(?i)(<a\s[^>]*?href=)["'](https?://[^"']+)["']`)

// bodyClosePattern finds the closing body tag for pixel/footer injection.
var bodyClosePattern = regexp.MustCompile(`(?i)</body>`)

// Processor rewrites outbound HTML so that link clicks and opens route
// through the tracking endpoints under BaseURL.
type Processor struct {
	baseURL string
}

// NewProcessor creates a processor. baseURL is the externally reachable root,
// without a trailing slash.
func NewProcessor(baseURL string) *Processor {
	return &Processor{baseURL: strings.TrimRight(baseURL, "/")}
}

// Process rewrites every http(s) anchor into a click-tracking redirect,
// injects the open-tracking pixel and an unsubscribe footer before the
// closing body tag, or appends them when the document has no body tag.
func (p *Processor) Process(htmlBody, campaignID, subscriberID, unsubscribeToken string) string {
	out := hrefPattern.ReplaceAllStringFunc(htmlBody, func(match string) string {
		sub := hrefPattern.FindStringSubmatch(match)
		return fmt.Sprintf(`%s"%s"`, sub[1], p.clickURL(campaignID, subscriberID, sub[2]))
	})

	suffix := p.pixelTag(campaignID, subscriberID) + p.unsubscribeFooter(unsubscribeToken)

	if loc := bodyClosePattern.FindStringIndex(out); loc != nil {
		return out[:loc[0]] + suffix + out[loc[0]:]
	}
	return out + suffix
}

// clickURL returns the tracking redirect for one target URL.
func (p *Processor) clickURL(campaignID, subscriberID, target string) string {
	return fmt.Sprintf("%s/track/click?cid=%s&sid=%s&url=%s",
		p.baseURL, url.QueryEscape(campaignID), url.QueryEscape(subscriberID), url.QueryEscape(target))
}

// OpenURL returns the open-tracking pixel URL for a recipient.
func (p *Processor) OpenURL(campaignID, subscriberID string) string {
	return fmt.Sprintf("%s/track/open?cid=%s&sid=%s",
		p.baseURL, url.QueryEscape(campaignID), url.QueryEscape(subscriberID))
}

// UnsubscribeURL returns the unsubscribe link for a subscriber token. The
// endpoint itself is served by the subscriber-facing side of the platform.
func (p *Processor) UnsubscribeURL(token string) string {
	return fmt.Sprintf("%s/unsubscribe?token=%s", p.baseURL, url.QueryEscape(token))
}

func (p *Processor) pixelTag(campaignID, subscriberID string) string {
	return fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;"/>`,
		p.OpenURL(campaignID, subscriberID))
}

func (p *Processor) unsubscribeFooter(token string) string {
	return fmt.Sprintf(`<p style="font-size:12px;color:#888;"><a href="%s">Unsubscribe</a></p>`,
		p.UnsubscribeURL(token))
}
