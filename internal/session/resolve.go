package session

import (
	"net/http"
	"strings"

	"github.com/usestring/mitmsession/pkg/types"
)

// ResolveSessionID finds the session id carried in a header name of the form
// prefix+id. Browsers strip custom headers from CORS preflights but list them
// in Access-Control-Request-Headers, so for OPTIONS requests those names are
// scanned too.
func ResolveSessionID(headers types.Headers, method, prefix string) (string, bool) {
	names := headers.Names()

	if method == http.MethodOptions {
		if requested, ok := headers.Lookup("Access-Control-Request-Headers"); ok {
			for _, name := range strings.Split(requested, ",") {
				names = append(names, strings.TrimSpace(name))
			}
		}
	}

	for _, name := range names {
		if len(name) > len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			return name[len(prefix):], true
		}
	}
	return "", false
}
