package render

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// FormatParam is the query parameter that overrides content negotiation.
const FormatParam = "format"

// ParseFormat maps a format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "xml":
		return FormatXML, nil
	default:
		return FormatJSON, fmt.Errorf("unsupported format %q", name)
	}
}

// Negotiate picks the response format of r. The format query parameter wins;
// otherwise the first XML or JSON media type of Accept decides. Anything else
// is JSON. An unknown format parameter returns an error with the JSON format
// so the caller can still answer.
func Negotiate(r *http.Request) (Format, error) {
	if name := r.URL.Query().Get(FormatParam); name != "" {
		return ParseFormat(name)
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/xml", "text/xml":
			return FormatXML, nil
		case "application/json":
			return FormatJSON, nil
		}
	}
	return FormatJSON, nil
}
