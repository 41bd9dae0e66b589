package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRelevant(t *testing.T) {
	f := New("rapid-cloud.co", true)

	tests := []struct {
		name    string
		url     string
		headers map[string]string
		want    bool
	}{
		{"url", "https://rapid-cloud.co/embed/1", nil, true},
		{"referer lower", "https://cdn.example/x.js", map[string]string{"referer": "https://rapid-cloud.co/"}, true},
		{"referer upper", "https://cdn.example/x.js", map[string]string{"Referer": "https://rapid-cloud.co/"}, true},
		{"origin lower", "https://cdn.example/x.js", map[string]string{"origin": "https://rapid-cloud.co"}, true},
		{"origin upper", "https://cdn.example/x.js", map[string]string{"Origin": "https://rapid-cloud.co"}, true},
		{"none", "https://cdn.example/x.js", map[string]string{"referer": "https://other.example/"}, false},
		{"case sensitive", "https://RAPID-CLOUD.CO/", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsRelevant(tt.url, tt.headers))
		})
	}
}

func TestIsRelevantDisabled(t *testing.T) {
	f := New("rapid-cloud.co", false)
	assert.True(t, f.IsRelevant("https://anything.example/", nil))
}

func TestExcluded(t *testing.T) {
	f := New("rapid-cloud.co", true)

	assert.True(t, f.Excluded("https://rapid-cloud.co/logo.svg", "Other", false))
	assert.True(t, f.Excluded("https://rapid-cloud.co/logo.svg", "Other", true))
	assert.True(t, f.Excluded("https://rapid-cloud.co/a.png", "Image", false))
	assert.True(t, f.Excluded("https://rapid-cloud.co/a.png", "image", false))
	assert.False(t, f.Excluded("https://rapid-cloud.co/a.png", "Image", true))
	assert.False(t, f.Excluded("https://rapid-cloud.co/api", "XHR", false))
}

func TestShouldLog(t *testing.T) {
	f := New("rapid-cloud.co", true)

	assert.False(t, f.ShouldLog("https://rapid-cloud.co/x.svg", nil, "Other", true))
	assert.False(t, f.ShouldLog("https://rapid-cloud.co/a.png", nil, "Image", false))
	assert.True(t, f.ShouldLog("https://rapid-cloud.co/a.png", nil, "Image", true))
	assert.False(t, f.ShouldLog("https://other.example/api", nil, "XHR", false))
	assert.True(t, f.ShouldLog("https://rapid-cloud.co/api", nil, "XHR", false))
}

func TestAnnotate(t *testing.T) {
	f := New("rapid-cloud.co", true)
	in := map[string]string{
		"referer":    "https://rapid-cloud.co/embed",
		"Origin":     "https://rapid-cloud.co",
		"user-agent": "rapid-cloud.co bot",
		"origin":     "https://other.example",
	}

	out := f.Annotate(in)
	assert.Equal(t, "[RAPID-CLOUD] https://rapid-cloud.co/embed", out["referer"])
	assert.Equal(t, "[RAPID-CLOUD] https://rapid-cloud.co", out["Origin"])
	assert.Equal(t, "https://other.example", out["origin"])
	assert.Equal(t, "rapid-cloud.co bot", out["user-agent"])

	assert.Equal(t, "https://rapid-cloud.co/embed", in["referer"], "input must not be mutated")
}

func TestMarker(t *testing.T) {
	assert.Equal(t, "[RAPID-CLOUD]", New("rapid-cloud.co", true).Marker())
	assert.Equal(t, "[EXAMPLE]", New("www.example.org", true).Marker())
	assert.Equal(t, "[TARGET]", New("", false).Marker())
}
