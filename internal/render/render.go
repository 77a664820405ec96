// Package render writes engine results as JSON or XML, wrapping paginated
// results in the page envelope.
package render

import (
	"encoding/json"
	"io"

	"github.com/Saloed/GalaxyAPI/internal/assemble"
	"github.com/Saloed/GalaxyAPI/internal/engine"
)

// Format is an output format name as accepted in the format query parameter.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ContentType returns the response media type for f.
func (f Format) ContentType() string {
	if f == FormatXML {
		return "application/xml; charset=utf-8"
	}
	return "application/json"
}

// Links are the absolute URLs of the neighbouring pages. Empty means none.
type Links struct {
	Prev string
	Next string
}

// Envelope returns the value to serialize for result: the bare data list, or
// for a paginated result an ordered {has_next, has_prev, prev, next, <name>}
// object.
func Envelope(result *engine.Result, links Links) any {
	data := result.Data
	if data == nil {
		data = []any{}
	}
	if result.Page == nil {
		return data
	}
	env := assemble.NewRecord(5)
	env.Set("has_next", result.Page.HasNext)
	env.Set("has_prev", result.Page.HasPrev)
	env.Set("prev", nullable(links.Prev))
	env.Set("next", nullable(links.Next))
	env.Set(result.Endpoint.Name, data)
	return env
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// WriteJSON writes the enveloped result.
func WriteJSON(w io.Writer, result *engine.Result, links Links) error {
	return encodeJSON(w, Envelope(result, links))
}

// WriteJSONError writes {"detail": message}.
func WriteJSONError(w io.Writer, message string) error {
	return encodeJSON(w, map[string]string{"detail": message})
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Write renders result in format f.
func Write(w io.Writer, f Format, result *engine.Result, links Links) error {
	if f == FormatXML {
		return WriteXML(w, result, links)
	}
	return WriteJSON(w, result, links)
}

// WriteError renders an error body in format f.
func WriteError(w io.Writer, f Format, message string) error {
	if f == FormatXML {
		return WriteXMLError(w, message)
	}
	return WriteJSONError(w, message)
}
