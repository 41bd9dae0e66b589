// Package filter decides which observed traffic belongs to the target site
// and which resources are never worth logging.
package filter

import (
	"strings"

	"github.com/samber/lo"
)

// Filter is a substring-based relevance gate for one target domain.
type Filter struct {
	domain  string
	enabled bool
	marker  string
}

// New creates a filter for domain. With enabled false every URL is
// relevant, but exclusion and header annotation still apply.
func New(domain string, enabled bool) *Filter {
	return &Filter{
		domain:  domain,
		enabled: enabled,
		marker:  markerFor(domain),
	}
}

// Domain returns the configured target domain.
func (f *Filter) Domain() string { return f.domain }

// Enabled reports whether domain filtering is active.
func (f *Filter) Enabled() bool { return f.enabled }

// IsRelevant reports whether the URL, its referer or its origin mentions the
// target domain.
func (f *Filter) IsRelevant(url string, headers map[string]string) bool {
	if !f.enabled {
		return true
	}
	if f.domain == "" {
		return false
	}

	candidates := []string{
		url,
		lookup(headers, "referer", "Referer"),
		lookup(headers, "origin", "Origin"),
	}
	return lo.ContainsBy(candidates, func(s string) bool {
		return strings.Contains(s, f.domain)
	})
}

// Excluded reports whether a resource is dropped regardless of relevance.
// Vector graphics are always dropped; images only for page traffic.
func (f *Filter) Excluded(url, resourceType string, serviceWorker bool) bool {
	if strings.HasSuffix(url, ".svg") {
		return true
	}
	return !serviceWorker && strings.EqualFold(resourceType, "image")
}

// ShouldLog combines relevance and exclusion.
func (f *Filter) ShouldLog(url string, headers map[string]string, resourceType string, serviceWorker bool) bool {
	return !f.Excluded(url, resourceType, serviceWorker) && f.IsRelevant(url, headers)
}

// Annotate returns a copy of headers whose referer and origin values are
// tagged when they mention the target domain.
func (f *Filter) Annotate(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	if f.domain == "" {
		return out
	}
	for _, key := range []string{"referer", "Referer", "origin", "Origin"} {
		if v, ok := out[key]; ok && strings.Contains(v, f.domain) {
			out[key] = f.marker + " " + v
		}
	}
	return out
}

// Marker returns the annotation tag, e.g. "[RAPID-CLOUD]" for rapid-cloud.co.
func (f *Filter) Marker() string { return f.marker }

func markerFor(domain string) string {
	label, _, _ := strings.Cut(strings.TrimPrefix(domain, "www."), ".")
	if label == "" {
		label = "TARGET"
	}
	return "[" + strings.ToUpper(label) + "]"
}

func lookup(headers map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := headers[k]; v != "" {
			return v
		}
	}
	return ""
}
