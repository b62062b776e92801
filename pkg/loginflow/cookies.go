package loginflow

import (
	"strings"

	"github.com/tendant/simple-platform-auth/pkg/browser"
)

// SerializeCookies joins cookies into a Cookie header value,
// "name1=value1; name2=value2". Cookies without a name are dropped.
func SerializeCookies(cookies []browser.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
