package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteSearchURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://www.google.com/search?q=golang+generics&hl=en", "https://duckduckgo.com/?q=golang+generics"},
		{"https://google.co.uk/search?q=a%26b", "https://duckduckgo.com/?q=a%26b"},
		{"https://www.google.com/", SearchHome},
		{"https://news.google.com/topics", SearchHome},
		{"https://go.dev/doc/", "https://go.dev/doc/"},
		{"https://notgoogle.com/search?q=x", "https://notgoogle.com/search?q=x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteSearchURL(tt.in))
		})
	}
}
