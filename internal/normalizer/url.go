package normalizer

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

var trackingQueryParams = map[string]struct{}{
	"gclid":   {},
	"dclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"cmpid":   {},
	"_hsenc":  {},
	"_hsmi":   {},
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingQueryParams[k]
	return ok
}

// NormalizeURL canonicalizes an article link so the same article behind
// different tracking decorations compares equal. Scheme and host are
// lowercased, default ports, fragments, tracking parameters and trailing
// slashes are dropped and the remaining query is sorted. Input that cannot be
// parsed as an absolute URL is returned unchanged.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return raw
	}
	if u.Scheme == "" {
		if strings.HasPrefix(trimmed, "//") {
			u, err = url.Parse("https:" + trimmed)
		} else if u.Host == "" {
			u, err = url.Parse("https://" + trimmed)
		}
		if err != nil || !looksLikeHost(u.Host) {
			return raw
		}
	}
	if u.Host == "" || u.Opaque != "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return raw
	}

	host := strings.ToLower(u.Host)
	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	u.Host = host
	u.User = nil

	// Clean the escaped form so %2F stays distinct from a path separator.
	p := u.EscapedPath()
	if p != "" {
		p = path.Clean(p)
		if p == "." || p == "/" {
			p = ""
		}
		p = strings.TrimRight(p, "/")
	}
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return raw
	}
	u.Path = unescaped
	u.RawPath = p
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false

	query := u.Query()
	for key := range query {
		if isTrackingParam(key) {
			query.Del(key)
		}
	}
	u.RawQuery = encodeSorted(query)

	return u.String()
}

// looksLikeHost rejects bare words like "foo" that would otherwise become
// "https://foo".
func looksLikeHost(host string) bool {
	return strings.Contains(host, ".") || strings.Contains(host, ":")
}

func encodeSorted(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			if v != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}
