package config

import (
	"cmp"
	"maps"
)

// TracesExporter is the OTLP setup for spans: the shared otlp section with
// the traces section laid over it.
func (c *ObservabilityConfig) TracesExporter() OTLPConfig { return c.OTLP.overlay(c.Traces) }

// LogsExporter is the OTLP setup for log records.
func (c *ObservabilityConfig) LogsExporter() OTLPConfig { return c.OTLP.overlay(c.Logs) }

// MetricsExporter is the OTLP setup for metrics.
func (c *ObservabilityConfig) MetricsExporter() OTLPConfig { return c.OTLP.overlay(c.Metrics) }

// overlay returns o with the non-zero settings of sig applied. Insecure is
// always taken from sig, since a present signal section states it. Headers
// are merged key by key.
func (o OTLPConfig) overlay(sig *OTLPConfig) OTLPConfig {
	if sig == nil {
		return o
	}
	out := OTLPConfig{
		Endpoint:          cmp.Or(sig.Endpoint, o.Endpoint),
		Protocol:          cmp.Or(sig.Protocol, o.Protocol),
		Insecure:          sig.Insecure,
		TLSCertFile:       cmp.Or(sig.TLSCertFile, o.TLSCertFile),
		TLSClientCertFile: cmp.Or(sig.TLSClientCertFile, o.TLSClientCertFile),
		TLSClientKeyFile:  cmp.Or(sig.TLSClientKeyFile, o.TLSClientKeyFile),
		Headers:           o.Headers,
		Timeout:           cmp.Or(sig.Timeout, o.Timeout),
		Compression:       cmp.Or(sig.Compression, o.Compression),
		RetryEnabled:      o.RetryEnabled,
		RetryMaxAttempts:  o.RetryMaxAttempts,
	}
	if sig.Headers != nil {
		out.Headers = maps.Clone(o.Headers)
		if out.Headers == nil {
			out.Headers = make(map[string]string, len(sig.Headers))
		}
		maps.Copy(out.Headers, sig.Headers)
	}
	if sig.RetryMaxAttempts != 0 {
		out.RetryEnabled, out.RetryMaxAttempts = sig.RetryEnabled, sig.RetryMaxAttempts
	}
	return out
}
