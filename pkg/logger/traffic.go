package logger

import (
	"time"
)

// TrafficRecord is the logged snapshot of one observed request or response.
type TrafficRecord struct {
	Timestamp       string            `json:"timestamp"`
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	Status          int64             `json:"status,omitempty"`
	Headers         map[string]string `json:"headers"`
	ResourceType    string            `json:"resourceType"`
	IsServiceWorker bool              `json:"isServiceWorker"`
	Body            string            `json:"body,omitempty"`
}

// Detection reports a tracked secret seen again in some channel.
type Detection struct {
	URL          string `json:"url,omitempty"`
	Origin       string `json:"origin,omitempty"`
	Type         string `json:"type,omitempty"`
	Status       string `json:"status,omitempty"`
	ResourceType string `json:"resourceType,omitempty"`
	PostData     string `json:"postData,omitempty"`
	Payload      string `json:"payload,omitempty"`
	Encoding     string `json:"encoding"`
	Context      string `json:"context,omitempty"`
}

// Capture reports a newly registered secret.
type Capture struct {
	Value       string `json:"value"`
	TotalValues int    `json:"totalValues"`
}

// Timestamp renders t as ISO-8601 UTC with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Preview returns the first n characters of s followed by "...".
func Preview(s string, n int) string {
	return cut(s, n) + "..."
}

// Truncate shortens s to n characters, marking the cut with "...".
// n <= 0 keeps s whole.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	short := cut(s, n)
	if len(short) < len(s) {
		return short + "..."
	}
	return s
}

func cut(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
