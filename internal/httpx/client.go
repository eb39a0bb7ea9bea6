package httpx

import (
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
)

// clientAddr returns the caller's IP. With TrustProxy the RealIP middleware
// has already replaced RemoteAddr with the forwarded address.
func clientAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if a, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return a.Unmap()
	}
	return netip.Addr{}
}

// publicURL builds the share link for token.
func (h *Handler) publicURL(r *http.Request, token string) string {
	base := strings.TrimRight(h.BaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		} else if h.TrustProxy && r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/" + url.PathEscape(token)
}

// cleanFilename keeps the final path element of a client supplied name and
// drops control characters. It never returns an empty name.
func cleanFilename(raw string) string {
	if dec, err := url.PathUnescape(raw); err == nil {
		raw = dec
	}
	raw = path.Base(strings.ReplaceAll(raw, `\`, "/"))
	raw = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, raw)
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "." || raw == "/" || raw == ".." {
		return "download"
	}
	if len(raw) > 255 {
		raw = strings.ToValidUTF8(raw[:255], "")
	}
	return raw
}
