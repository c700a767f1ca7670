package tracking

import (
	"fmt"
	"regexp"
	"strings"
)

// urlPattern matches http/https URLs bounded by whitespace, quotes, or
// angle brackets. The same pattern serves plain-text and HTML bodies: in
// HTML the quote boundary stops a match at the end of an href value.
var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// Rewriter produces per-recipient variants of a message body with click
// tracking on every link and an open beacon appended.
type Rewriter struct {
	codec *Codec
}

// NewRewriter creates a rewriter that mints URLs through the given codec.
func NewRewriter(codec *Codec) *Rewriter {
	return &Rewriter{codec: codec}
}

// RewriteLinks replaces every outbound link in body with a click-tracking
// redirect wrapping the original destination. URLs that already point at
// the tracking service are left untouched so re-sends don't double-wrap.
func (rw *Rewriter) RewriteLinks(body, trackingID, recipient string) string {
	return urlPattern.ReplaceAllStringFunc(body, func(match string) string {
		if strings.Contains(match, "/tracking/") {
			return match
		}
		return rw.codec.ClickURL(trackingID, recipient, match)
	})
}

// AppendOpenBeacon inserts an invisible 1x1 image referencing the pixel URL
// immediately before the closing body tag, or at the end of the document
// when no such tag exists.
func (rw *Rewriter) AppendOpenBeacon(htmlBody, trackingID, recipient string) string {
	beacon := fmt.Sprintf(
		`<img src="%s" width="1" height="1" alt="" style="display:none;max-height:0;overflow:hidden" />`,
		rw.codec.PixelURL(trackingID, recipient))

	if strings.Contains(htmlBody, "</body>") {
		return strings.Replace(htmlBody, "</body>", beacon+"</body>", 1)
	}
	return htmlBody + beacon
}

// Instrument produces the final per-recipient text and HTML bodies for one
// send. Links are rewritten in both; the beacon lands in the HTML body. When
// no HTML body was supplied, a minimal HTML document is synthesized around
// the rewritten plain text so the open beacon can still be delivered.
// Every recipient of a send gets byte-distinct content because its own
// address is embedded in every tracking URL.
func (rw *Rewriter) Instrument(textBody, htmlBody, trackingID, recipient string) (text, html string) {
	text = rw.RewriteLinks(textBody, trackingID, recipient)

	if htmlBody != "" {
		html = rw.RewriteLinks(htmlBody, trackingID, recipient)
	} else {
		html = synthesizeHTML(text)
	}
	html = rw.AppendOpenBeacon(html, trackingID, recipient)
	return text, html
}

// synthesizeHTML wraps already link-rewritten plain text in a minimal HTML
// document, preserving line breaks.
func synthesizeHTML(text string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div style="font-family:inherit">`)
	b.WriteString(strings.ReplaceAll(text, "\n", "<br/>"))
	b.WriteString(`</div></body></html>`)
	return b.String()
}
