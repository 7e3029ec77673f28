// Package track implements the click-to-redirect pipeline: parameter capture,
// funnel resolution, quota check, and redirect composition.
package track

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	fbcCookieName = "_fbc"
	fbpCookieName = "_fbp"
)

// Capture is the normalized attribution record extracted from one request.
// Optional parameters stay nil when absent; an empty string on the wire and a
// missing parameter are different facts.
type Capture struct {
	VisitorID string
	FBCLID    *string
	FBC       *string
	FBP       *string
	FBCFresh  bool // FBC was synthesized on this request (needs a Set-Cookie)
	IP        string
	UserAgent string
	Params    url.Values // full query, for opt-in passthrough
	At        time.Time
}

// Extractor turns raw requests into Captures. TrustProxy selects between the
// X-Forwarded-For header and the transport peer address; it is deployment
// config, never inferred per request.
type Extractor struct {
	TrustProxy   string // value of trust_proxy config: empty means direct peer
	NewVisitorID func() string
	Now          func() time.Time
}

// Extract never fails: malformed query strings degrade to absent fields.
func (x *Extractor) Extract(r *http.Request) Capture {
	now := x.Now()
	cap := Capture{
		UserAgent: r.UserAgent(),
		IP:        x.clientIP(r),
		Params:    parseQuery(r.URL.RawQuery),
		At:        now,
	}

	if v := cap.Params.Get("fbclid"); v != "" {
		cap.FBCLID = &v
	}

	// fbc: a fresh fbclid always wins over a stored cookie so the newest ad
	// click is the one attributed. Format fb.1.<unix-ms>.<fbclid> is stable
	// across redirects for a frozen clock.
	switch {
	case cap.FBCLID != nil:
		fbc := SynthesizeFBC(*cap.FBCLID, now)
		cap.FBC = &fbc
		cap.FBCFresh = true
	default:
		if c, err := r.Cookie(fbcCookieName); err == nil && c.Value != "" {
			v := c.Value
			cap.FBC = &v
		}
	}

	// fbp only ever originates from Meta's own browser pixel; never synthesized.
	if c, err := r.Cookie(fbpCookieName); err == nil && c.Value != "" {
		v := c.Value
		cap.FBP = &v
	}

	if v := cap.Params.Get("vid"); v != "" {
		cap.VisitorID = v
	} else {
		cap.VisitorID = x.NewVisitorID()
	}

	return cap
}

// SynthesizeFBC derives the click-id cookie value from a raw fbclid.
func SynthesizeFBC(fbclid string, at time.Time) string {
	return fmt.Sprintf("fb.1.%d.%s", at.UnixMilli(), fbclid)
}

func (x *Extractor) clientIP(r *http.Request) string {
	if x.TrustProxy != "" {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			// first hop is the client when the proxy in front is trusted
			return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseQuery is url.ParseQuery with errors swallowed: whatever parsed before
// the malformed pair is kept.
func parseQuery(raw string) url.Values {
	v, err := url.ParseQuery(raw)
	if err != nil && v == nil {
		return url.Values{}
	}
	return v
}
