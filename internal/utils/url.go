package utils

import (
	"net/url"
	"strings"
)

// IsValidURL reports whether s is an absolute http(s) URL with a host
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// JoinURL appends path segments to base with exactly one slash between them
func JoinURL(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		out += "/" + seg
	}
	return out
}
