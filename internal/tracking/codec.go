package tracking

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedTrackingURL is returned when a beacon path is missing a
// segment or a segment does not percent-decode.
var ErrMalformedTrackingURL = errors.New("malformed tracking url")

const (
	pixelPrefix = "/tracking/pixel/"
	clickPrefix = "/tracking/click/"
)

// Codec builds and parses tracking URLs. Building is deterministic: the
// same inputs always yield the same URL, so per-recipient variants differ
// only in the embedded recipient segment.
type Codec struct {
	baseURL string
}

// NewCodec creates a codec rooted at the tracking service's public URL.
func NewCodec(baseURL string) *Codec {
	return &Codec{baseURL: strings.TrimRight(baseURL, "/")}
}

// PixelURL returns the open-beacon URL for one recipient of one send.
func (c *Codec) PixelURL(trackingID, recipient string) string {
	return c.baseURL + pixelPrefix +
		url.PathEscape(trackingID) + "/" + url.PathEscape(recipient)
}

// ClickURL returns a redirect URL wrapping destination for one recipient.
func (c *Codec) ClickURL(trackingID, recipient, destination string) string {
	return c.baseURL + clickPrefix +
		url.PathEscape(trackingID) + "/" +
		url.PathEscape(destination) + "/" +
		url.PathEscape(recipient)
}

// ParsePixelPath is the inverse of PixelURL. It takes the raw (still
// escaped) request path and returns the tracking id and recipient.
func ParsePixelPath(path string) (trackingID, recipient string, err error) {
	segs, err := splitTrackingPath(path, pixelPrefix, 2)
	if err != nil {
		return "", "", err
	}
	return segs[0], segs[1], nil
}

// ParseClickPath is the inverse of ClickURL. It takes the raw (still
// escaped) request path and returns the tracking id, recipient, and the
// original destination URL.
func ParseClickPath(path string) (trackingID, recipient, destination string, err error) {
	segs, err := splitTrackingPath(path, clickPrefix, 3)
	if err != nil {
		return "", "", "", err
	}
	return segs[0], segs[2], segs[1], nil
}

// splitTrackingPath locates prefix in path, splits the remainder into
// exactly want segments, and percent-decodes each one.
func splitTrackingPath(path, prefix string, want int) ([]string, error) {
	idx := strings.Index(path, prefix)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrMalformedTrackingURL, strings.Trim(prefix, "/"))
	}
	rest := path[idx+len(prefix):]
	parts := strings.Split(rest, "/")
	if len(parts) != want {
		return nil, fmt.Errorf("%w: expected %d segments, got %d", ErrMalformedTrackingURL, want, len(parts))
	}

	out := make([]string, want)
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment", ErrMalformedTrackingURL)
		}
		dec, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTrackingURL, err)
		}
		out[i] = dec
	}
	return out, nil
}
