package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Saloed/GalaxyAPI/internal/endpoint"
)

type catalog struct {
	Endpoints []catalogEntry `json:"endpoints"`
}

type catalogEntry struct {
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	URL                string         `json:"url"`
	PaginationEnabled  bool           `json:"pagination_enabled"`
	AggregationEnabled bool           `json:"aggregation_enabled"`
	Params             []catalogParam `json:"params"`
}

type catalogParam struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
	Example     string `json:"example,omitempty"`
}

// serveCatalog lists every endpoint of the active snapshot with its
// parameters. The catalog is always JSON.
func (h *handler) serveCatalog(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(r.URL.Path, "/")
	out := catalog{Endpoints: []catalogEntry{}}
	if h.source != nil {
		if reg := h.source.Current(); reg != nil {
			for _, ep := range reg.Endpoints() {
				out.Endpoints = append(out.Endpoints, h.catalogEntry(base, ep))
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func (h *handler) catalogEntry(base string, ep *endpoint.Endpoint) catalogEntry {
	entry := catalogEntry{
		Name:               ep.Name,
		Description:        ep.Description,
		URL:                base + "/" + url.PathEscape(ep.Name),
		PaginationEnabled:  ep.PaginationEnabled,
		AggregationEnabled: ep.AggregationEnabled,
		Params:             []catalogParam{},
	}
	for _, p := range ep.OrderedSQLParams() {
		entry.Params = append(entry.Params, catalogParam{
			Name:        p.Name,
			In:          "sql",
			Type:        string(p.Type),
			Required:    true,
			Description: p.Description,
			Default:     p.Default,
			Example:     p.Example,
		})
	}
	for _, p := range ep.Params {
		entry.Params = append(entry.Params, catalogParam{
			Name:        p.Name,
			In:          "filter",
			Type:        string(p.Type),
			Required:    p.Required,
			Description: p.Description,
			Default:     p.Default,
			Example:     p.Example,
		})
	}
	if ep.PaginationEnabled {
		entry.Params = append(entry.Params,
			catalogParam{Name: h.pageParam, In: "page", Type: string(endpoint.TypeInteger), Default: "0"},
			catalogParam{Name: h.pageSizeParam, In: "page", Type: string(endpoint.TypeInteger), Default: strconv.Itoa(h.defaultPageSize)},
		)
	}
	return entry
}
