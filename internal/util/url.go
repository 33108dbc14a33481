package util

import (
	"net"
	"net/url"
	"strings"
)

// NormaliseURL returns a canonical spelling of an http(s) URL: trimmed, with
// https:// added when no scheme is given, a lower-case host without its default
// port, and no fragment. It returns "" for anything that is not an http(s) URL.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}

	u.Host = normaliseHostPort(strings.ToLower(u.Host), u.Scheme)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// NormaliseHost lower-cases host and strips any port and "www." prefix, so
// "WWW.Qavanin.ir:443" and "qavanin.ir" compare equal.
func NormaliseHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// Hostname returns the host of rawURL without port, or "" if it does not parse.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
