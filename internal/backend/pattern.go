package backend

import (
	"regexp"
	"strings"
)

// CompilePattern compiles a hostname-matching pattern, case-insensitively by
// default since SNI/Host values are conventionally lowercased but a route
// file author may paste a pattern verbatim from elsewhere. A pattern that
// already carries its own inline flag group (e.g. "(?i)" or "(?s)") is
// compiled as written.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if strings.HasPrefix(pattern, "(?") {
		return regexp.Compile(pattern)
	}
	return regexp.Compile("(?i)" + pattern)
}
