package helpers

import (
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"dclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"igshid":       {},
}

// NormalizeURL produces the canonical form used as a deduplication key:
// lowercase scheme and host, fragment stripped, tracking parameters removed
// and remaining query parameters sorted. It never fails; unparseable input
// falls back to a trimmed lowercase string so callers always get a usable key.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" && u.Scheme == "" {
		if strings.HasPrefix(raw, "//") {
			if u2, err2 := url.Parse("https:" + raw); err2 == nil && u2.Host != "" {
				u = u2
			} else {
				return strings.TrimSuffix(strings.ToLower(raw), "/")
			}
		} else if u2, err2 := url.Parse("https://" + raw); err2 == nil && u2.Host != "" {
			u = u2
		} else {
			return strings.TrimSuffix(strings.ToLower(raw), "/")
		}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	q := u.Query()
	for key := range q {
		if _, drop := trackingParams[strings.ToLower(key)]; drop {
			q.Del(key)
		}
	}
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, key := range keys {
			values := append([]string(nil), q[key]...)
			sort.Strings(values)
			for _, value := range values {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(value))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String()
}

// Domain extracts the lowercase hostname from a URL string, without port.
func Domain(raw string) string {
	if raw == "" {
		return ""
	}
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}
