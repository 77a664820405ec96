package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/engine"
	"github.com/Saloed/GalaxyAPI/internal/logging"
	"github.com/Saloed/GalaxyAPI/internal/observability"
	"github.com/Saloed/GalaxyAPI/internal/render"
)

func (h *handler) serveEndpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	name := chi.URLParam(r, "endpoint")

	h.metrics.IncrementActiveRequests(ctx)
	defer h.metrics.DecrementActiveRequests(ctx)

	format, err := render.Negotiate(r)
	if err != nil {
		h.metrics.RecordRequest(ctx, time.Since(start), name, string(format), http.StatusNotFound)
		writeError(w, format, http.StatusNotFound, "Not found.")
		return
	}

	status, body := h.process(r, name, format)
	h.metrics.RecordRequest(ctx, time.Since(start), name, string(format), status)

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

// process renders the full response body before anything is written, so a
// late failure still yields a clean error response.
func (h *handler) process(r *http.Request, name string, format render.Format) (int, *bytes.Buffer) {
	var body bytes.Buffer

	result, err := h.run(r, name, format)
	if err == nil {
		err = render.Write(&body, format, result, h.links(r, result.Page))
	}
	if err != nil {
		f := h.fail(r, name, err)
		body.Reset()
		_ = render.WriteError(&body, format, f.message)
		return f.status, &body
	}
	return http.StatusOK, &body
}

func (h *handler) run(r *http.Request, name string, format render.Format) (*engine.Result, error) {
	ep, err := h.engine.Lookup(name)
	if err != nil {
		return nil, err
	}

	req := engine.Request{Endpoint: ep.Name, Params: h.params(r)}
	if ep.PaginationEnabled {
		page, err := h.pageRequest(r, ep)
		if err != nil {
			return nil, err
		}
		req.Page = page
	}

	info := observability.RequestInfo{
		Endpoint:   ep.Name,
		Format:     string(format),
		ParamCount: len(req.Params),
	}
	if req.Page != nil {
		info.Paginated = true
		info.PageNumber = req.Page.Number
		info.PageSize = req.Page.Size
	}
	ctx := r.Context()
	trace.SpanFromContext(ctx).SetAttributes(observability.RequestSpanAttributes(info)...)
	ctx = logging.WithLogger(ctx, logging.FromContextOr(ctx, h.logger).WithFields(observability.RequestLogFields(ctx, info)...))

	return h.engine.Process(ctx, req)
}

func (h *handler) fail(r *http.Request, name string, err error) failure {
	ctx := r.Context()
	f := classify(err)
	h.metrics.RecordError(ctx, name, f.kind)

	logger := logging.FromContextOr(ctx, h.logger)
	attrs := []any{
		slog.String("endpoint", name),
		slog.String("error_type", f.kind),
		slog.String("error", err.Error()),
	}
	if f.status >= http.StatusInternalServerError {
		logger.Error("endpoint request failed", attrs...)
	} else {
		logger.Debug("endpoint request rejected", attrs...)
	}
	return f
}

// params collects the first value of every query parameter except the
// reserved format and page parameters.
func (h *handler) params(r *http.Request) map[string]string {
	query := r.URL.Query()
	params := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) == 0 || h.reserved(key) {
			continue
		}
		params[key] = values[0]
	}
	return params
}

func (h *handler) reserved(key string) bool {
	return key == render.FormatParam || key == h.pageParam || key == h.pageSizeParam
}

func (h *handler) pageRequest(r *http.Request, ep *endpoint.Endpoint) (*engine.PageRequest, error) {
	query := r.URL.Query()
	page := &engine.PageRequest{Number: 0, Size: h.defaultPageSize}

	if raw := strings.TrimSpace(query.Get(h.pageParam)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, &apperr.ValidationError{
				Endpoint: ep.Name,
				Param:    h.pageParam,
				Message:  fmt.Sprintf("Invalid %s %q: expected a non-negative integer", h.pageParam, raw),
			}
		}
		page.Number = n
	}
	if raw := strings.TrimSpace(query.Get(h.pageSizeParam)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > h.maxPageSize {
			return nil, &apperr.ValidationError{
				Endpoint: ep.Name,
				Param:    h.pageSizeParam,
				Message:  fmt.Sprintf("Invalid %s %q: expected an integer between 1 and %d", h.pageSizeParam, raw, h.maxPageSize),
			}
		}
		page.Size = n
	}
	return page, nil
}

// links builds absolute neighbour page URLs: the request URL with the page
// parameter replaced and the query re-encoded in key order.
func (h *handler) links(r *http.Request, page *engine.PageInfo) render.Links {
	var links render.Links
	if page == nil {
		return links
	}
	if page.HasPrev {
		links.Prev = h.pageURL(r, page.Number-1)
	}
	if page.HasNext {
		links.Next = h.pageURL(r, page.Number+1)
	}
	return links
}

func (h *handler) pageURL(r *http.Request, number int) string {
	query := r.URL.Query()
	query.Set(h.pageParam, strconv.Itoa(number))
	u := url.URL{
		Scheme:   h.scheme(r),
		Host:     h.host(r),
		Path:     r.URL.Path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (h *handler) scheme(r *http.Request) string {
	if h.trustProxyHeaders {
		if proto := firstHeaderValue(r, "X-Forwarded-Proto"); proto != "" {
			return strings.ToLower(proto)
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func (h *handler) host(r *http.Request) string {
	if h.trustProxyHeaders {
		if host := firstHeaderValue(r, "X-Forwarded-Host"); host != "" {
			return host
		}
	}
	return r.Host
}

func firstHeaderValue(r *http.Request, name string) string {
	value, _, _ := strings.Cut(r.Header.Get(name), ",")
	return strings.TrimSpace(value)
}
