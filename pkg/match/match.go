// Package match decides whether a blob of observed text carries a tracked
// secret, either verbatim, percent-encoded or base64-encoded.
package match

import (
	"encoding/base64"
	"net/url"
	"slices"
	"strings"
)

// Encoding names the transport form a secret was found in.
type Encoding string

const (
	EncodingRaw    Encoding = "raw"
	EncodingURL    Encoding = "url"
	EncodingBase64 Encoding = "base64"
)

// Result describes one successful match.
type Result struct {
	Secret   string
	Encoding Encoding
	// Needle is the exact text located in the content.
	Needle string
}

// Find reports whether content carries secret and in which form.
// Empty inputs never match.
func Find(content, secret string) (Result, bool) {
	if content == "" || secret == "" {
		return Result{}, false
	}

	if strings.Contains(content, secret) {
		return Result{Secret: secret, Encoding: EncodingRaw, Needle: secret}, true
	}

	// Malformed escapes only disable this path.
	if decoded, err := url.PathUnescape(secret); err == nil && decoded != "" && strings.Contains(content, decoded) {
		return Result{Secret: secret, Encoding: EncodingURL, Needle: decoded}, true
	}
	if needle, ok := escapedNeedle(content, secret); ok {
		return Result{Secret: secret, Encoding: EncodingURL, Needle: needle}, true
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(secret))
	if strings.Contains(content, encoded) {
		return Result{Secret: secret, Encoding: EncodingBase64, Needle: encoded}, true
	}

	return Result{}, false
}

// Matches is Find without the details.
func Matches(content, secret string) bool {
	_, ok := Find(content, secret)
	return ok
}

// MatchAny checks content against every secret, in order, and returns one
// result per matching secret.
func MatchAny(content string, secrets []string) []Result {
	if content == "" {
		return nil
	}
	var results []Result
	for _, secret := range secrets {
		if r, ok := Find(content, secret); ok {
			results = append(results, r)
		}
	}
	return results
}

// Excerpt returns up to radius characters on each side of the first
// occurrence of needle in content, or "" when needle is absent.
func Excerpt(content, needle string, radius int) string {
	if content == "" || needle == "" {
		return ""
	}
	idx := strings.Index(content, needle)
	if idx < 0 {
		return ""
	}

	start := idx
	for n := 0; n < radius && start > 0; n++ {
		start = prevRuneStart(content, start)
	}
	end := idx + len(needle)
	for n := 0; n < radius && end < len(content); n++ {
		end = nextRuneStart(content, end)
	}
	return content[start:end]
}

// escapedNeedle looks for a percent-encoded form of secret in content.
// Content is never decoded as a whole, so unrelated stray '%' characters
// do not hide a match.
func escapedNeedle(content, secret string) (string, bool) {
	for _, candidate := range escapedForms(secret) {
		if strings.Contains(content, candidate) {
			return candidate, true
		}
		if lower := lowerHex(candidate); lower != candidate && strings.Contains(content, lower) {
			return lower, true
		}
	}
	return "", false
}

// escapedForms lists the encodings browsers and scripts commonly produce:
// path escaping, form escaping, and encodeURIComponent.
func escapedForms(secret string) []string {
	query := url.QueryEscape(secret)
	component := componentEscaper.Replace(strings.ReplaceAll(query, "+", "%20"))
	forms := make([]string, 0, 4)
	for _, f := range []string{url.PathEscape(secret), query, strings.ReplaceAll(query, "+", "%20"), component} {
		if f != secret && !slices.Contains(forms, f) {
			forms = append(forms, f)
		}
	}
	return forms
}

// encodeURIComponent leaves these unescaped.
var componentEscaper = strings.NewReplacer("%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*")

// lowerHex rewrites the hex digits of every escape to lower case.
func lowerHex(s string) string {
	b := []byte(s)
	for i := 0; i+2 < len(b); i++ {
		if b[i] != '%' {
			continue
		}
		for j := i + 1; j <= i+2; j++ {
			if b[j] >= 'A' && b[j] <= 'F' {
				b[j] += 'a' - 'A'
			}
		}
		i += 2
	}
	return string(b)
}

func prevRuneStart(s string, i int) int {
	i--
	for i > 0 && !isRuneStart(s[i]) {
		i--
	}
	return i
}

func nextRuneStart(s string, i int) int {
	i++
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return i
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
