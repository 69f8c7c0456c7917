package session

import (
	"net/http"
	"net/url"
	"time"
)

// Cookie is one persisted cookie together with the URL it was issued for.
// net/http/cookiejar does not expose domain and path attributes, so cookies
// are saved per known URL and replayed through SetCookies on restore.
type Cookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// Jar is the part of http.CookieJar the snapshot functions need.
type Jar interface {
	SetCookies(u *url.URL, cookies []*http.Cookie)
	Cookies(u *url.URL) []*http.Cookie
}

// Snapshot captures the cookies jar would send to each of urls.
func Snapshot(jar Jar, urls []*url.URL) []Cookie {
	var out []Cookie
	for _, u := range urls {
		for _, c := range jar.Cookies(u) {
			out = append(out, Cookie{
				URL:   u.String(),
				Name:  c.Name,
				Value: c.Value,
				// Jar.Cookies strips attributes; the scheme decides Secure on replay.
				Secure: u.Scheme == "https",
			})
		}
	}
	return out
}

// Restore loads cookies into jar. Entries with unparsable URLs or past
// expiry are skipped. It returns the number of cookies restored.
func Restore(jar Jar, cookies []Cookie, now time.Time) int {
	byURL := make(map[string][]*http.Cookie)
	var order []string
	for _, c := range cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		if _, ok := byURL[c.URL]; !ok {
			order = append(order, c.URL)
		}
		byURL[c.URL] = append(byURL[c.URL], &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     "/",
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}

	restored := 0
	for _, raw := range order {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		jar.SetCookies(u, byURL[raw])
		restored += len(byURL[raw])
	}
	return restored
}
