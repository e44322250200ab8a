// Package tracking instruments outgoing campaign HTML with per-recipient
// open and click telemetry and validates click redirect targets.
package tracking

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// TokenLength is the length of a tracking token in hex characters
const TokenLength = 32

// ErrInvalidRedirect is returned for click targets that are not absolute
// http(s) URLs
var ErrInvalidRedirect = errors.New("invalid redirect url")

var (
	hrefPattern    = regexp.MustCompile(`(?i)href\s*=\s*(?:"([^"]+)"|'([^']+)'|([^\s>]+))`)
	absolutePrefix = regexp.MustCompile(`(?i)^https?://`)
	closingBody    = regexp.MustCompile(`(?i)</body>`)
	tokenPattern   = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// PixelGIF is a 1x1 transparent GIF
var PixelGIF = mustDecode("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// NewToken returns a fresh 128-bit token as 32 lowercase hex characters
func NewToken() (string, error) {
	b := make([]byte, TokenLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsToken reports whether s has the shape of a tracking token
func IsToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// NormalizeBaseURL strips surrounding space and trailing slashes
func NormalizeBaseURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

// OpenURL is the pixel location for token
func OpenURL(base, token string) string {
	return base + "/t/o/" + token + ".gif"
}

// ClickURL is the redirect location wrapping target for token
func ClickURL(base, token, target string) string {
	return base + "/t/c/" + token + "?url=" + EncodeURIComponent(target)
}

// Instrument rewrites every absolute http(s) href to pass through the click
// redirect and adds the open pixel before </body>, or at the end when the
// document has none. mailto:, tel:, fragment and relative links are kept.
func Instrument(html, token, base string) string {
	base = NormalizeBaseURL(base)
	return injectPixel(rewriteLinks(html, token, base), token, base)
}

func rewriteLinks(html, token, base string) string {
	return hrefPattern.ReplaceAllStringFunc(html, func(m string) string {
		sub := hrefPattern.FindStringSubmatch(m)
		var raw, quote string
		switch {
		case sub[1] != "":
			raw, quote = sub[1], `"`
		case sub[2] != "":
			raw, quote = sub[2], `'`
		default:
			raw = sub[3]
		}

		target := strings.TrimSpace(raw)
		if target == "" || !absolutePrefix.MatchString(target) {
			return m
		}
		return "href=" + quote + ClickURL(base, token, target) + quote
	})
}

func injectPixel(html, token, base string) string {
	pixel := `<img src="` + OpenURL(base, token) + `" width="1" height="1" style="display:none" alt="">`
	if loc := closingBody.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + pixel + html[loc[0]:]
	}
	return html + pixel
}

// ValidateRedirectURL accepts raw only if it is an absolute http or https
// URL with a host. raw is the already decoded query value and is returned
// unchanged apart from surrounding whitespace.
func ValidateRedirectURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", ErrInvalidRedirect
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", ErrInvalidRedirect
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", ErrInvalidRedirect
	}
	if u.Host == "" {
		return "", ErrInvalidRedirect
	}
	return target, nil
}

var uriComponentFixups = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeURIComponent percent-encodes s leaving only A-Z a-z 0-9 and
// - _ . ! ~ * ' ( ) intact
func EncodeURIComponent(s string) string {
	return uriComponentFixups.Replace(url.QueryEscape(s))
}
