package track

import (
	"net/http"
	"net/url"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
)

// fbcCookieTTL is the documented expiry of the synthesized _fbc cookie.
const fbcCookieTTL = 90 * 24 * time.Hour

// Targets are the three non-destination redirect variants: every error the
// browser can see is still some redirect, never a blank page.
type Targets struct {
	Landing   string // unknown slug / internal failure
	Inactive  string // disabled funnel
	PlanLimit string // quota exceeded
}

// reserved query parameters the composer handles explicitly; everything else
// is passed through only when the funnel opts in.
var reservedParams = map[string]struct{}{
	"vid": {}, "fbclid": {}, "fbc": {}, "fbp": {},
}

// ComposeDestination builds the destination URL for an allowed click.
// Deterministic: the same funnel and capture always yield the same URL.
func ComposeDestination(f *model.ResolvedFunnel, cap Capture) string {
	base := ""
	if f.Channel != nil {
		base = f.Channel.InviteLink
	}
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return base
	}

	q := u.Query()
	q.Set("vid", cap.VisitorID)
	if cap.FBC != nil {
		q.Set("fbc", *cap.FBC)
	}
	if cap.FBP != nil {
		q.Set("fbp", *cap.FBP)
	}

	if f.Funnel.Passthrough {
		for k, vs := range cap.Params {
			if _, held := reservedParams[k]; held {
				continue
			}
			for _, v := range vs {
				q.Add(k, v)
			}
		}
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// FBCCookie is the Set-Cookie carrying a freshly synthesized fbc value, so a
// later page load on the destination side retains attribution continuity.
func FBCCookie(value string, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     fbcCookieName,
		Value:    value,
		Path:     "/",
		Expires:  now.Add(fbcCookieTTL),
		MaxAge:   int(fbcCookieTTL / time.Second),
		SameSite: http.SameSiteLaxMode,
	}
}
