package netclient

import (
	"bytes"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/PuerkitoBio/goquery"
)

// class is the result class of one network attempt.
type class int

const (
	classOK class = iota
	classTransient
	classPermanent
	classProxy
)

// String returns the class name used as a metric label.
func (c class) String() string {
	switch c {
	case classOK:
		return "ok"
	case classTransient:
		return "transient"
	case classPermanent:
		return "permanent"
	case classProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// challengeMarkers are visible-text markers of anti-bot interstitials.
var challengeMarkers = []string{"cloudflare", "Cloudflare", "Checking your browser"}

// challengeSelectors match the standard challenge page elements.
const challengeSelectors = "#challenge-form, #cf-wrapper, #challenge-running, #cf-challenge-running"

// classifyError maps a transport error. Errors that point at the proxy hop
// (refused connection, failed CONNECT) are proxy failures only when a proxy
// was in use; everything else (timeouts, resets, EOF) is transient.
func classifyError(err error, proxied bool) class {
	if err == nil {
		return classOK
	}
	if proxied && isProxyHopError(err) {
		return classProxy
	}
	return classTransient
}

func isProxyHopError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "proxyconnect") || strings.Contains(msg, "Proxy Authentication Required") {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		return true
	}
	return false
}

// classifyResponse maps a status code and body.
func classifyResponse(status int, body []byte) class {
	switch {
	case status == http.StatusProxyAuthRequired:
		return classProxy
	case status == http.StatusTooManyRequests, status >= 500:
		if isChallenge(body) {
			return classProxy
		}
		return classTransient
	case status == http.StatusForbidden:
		if isChallenge(body) {
			return classProxy
		}
		return classPermanent
	case status >= 400:
		return classPermanent
	case isChallenge(body):
		return classProxy
	default:
		return classOK
	}
}

// isChallenge reports whether an HTML body is an anti-bot challenge page.
// Marker text is matched against visible text and the title, not raw markup,
// so pages that merely load assets from a CDN are not flagged.
func isChallenge(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find(challengeSelectors).Length() > 0 {
		return true
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if strings.EqualFold(title, "Just a moment...") || strings.EqualFold(title, "Attention Required! | Cloudflare") {
		return true
	}

	// Challenge interstitials are short; full articles mentioning the word are not.
	doc.Find("script, style, noscript").Remove()
	text := doc.Find("body").Text()
	if len(strings.Fields(text)) > 300 {
		return false
	}
	for _, m := range challengeMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
