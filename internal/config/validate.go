package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) errorf(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warnf(field, hint, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.API.validate(result)
	c.Descriptions.validate(result)
	c.Cache.validate(result)
	c.Engine.validate(result)
	c.Observability.validate(result)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.Driver {
	case DriverSQLServer, DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		result.errorf("database.driver", "valid values are: sqlserver, postgres, mysql, sqlite3",
			"unsupported database driver %q", d.Driver)
		return
	}

	if d.ConnectionString == "" {
		if d.Driver == DriverSQLite {
			if strings.TrimSpace(d.Database) == "" {
				result.errorf("database.database", "set the database file path or database.dsn",
					"database file is required for sqlite3")
			}
		} else {
			if strings.TrimSpace(d.Host) == "" {
				result.errorf("database.host", "", "host is required when dsn is not set")
			}
			if d.Port < 0 || d.Port > 65535 {
				result.errorf("database.port", "use 0 for the driver default", "port %d is out of valid range (1-65535)", d.Port)
			}
		}
	}

	if _, err := d.DSN(); err != nil {
		result.errorf("database.dsn", "check the DSN syntax of the selected driver", "%v", err)
	}

	d.TLS.validate(d.Driver, result)

	if d.Pool.MaxOpen < 0 {
		result.errorf("database.pool.max_open", "", "max_open cannot be negative")
	}
	if d.Pool.MaxIdle < 0 {
		result.errorf("database.pool.max_idle", "", "max_idle cannot be negative")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warnf("database.pool.max_idle", "idle connections will be limited to max_open",
			"max_idle is greater than max_open")
	}

	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.warnf("database.connection_retry_interval", "only one connection attempt will be made",
			"connection_retry_interval is greater than connection_timeout")
	}
	if d.ConnectionRetryInterval < 0 {
		result.errorf("database.connection_retry_interval", "", "connection_retry_interval cannot be negative")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.errorf("database.connection_retry_interval",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
			"connection_retry_interval must be greater than 0 when connection_timeout is set")
	}
	if d.ConnectionTimeout < 0 {
		result.errorf("database.connection_timeout", "", "connection_timeout cannot be negative")
	}
}

func (t *DatabaseTLSConfig) validate(driver string, result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.errorf("database.tls.mode", "valid values are: off, skip-verify, verify-ca, verify-full",
			"invalid TLS mode %q", t.Mode)
	}
	if t.Mode != "" && driver == DriverSQLite {
		result.warnf("database.tls.mode", "remove database.tls for sqlite3", "TLS settings are ignored for sqlite3")
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.errorf("database.tls.ca_file", "set ca_file to specify the CA certificate",
			"CA file is required for verify-ca and verify-full modes")
	}

	if (t.CertFile != "") != (t.KeyFile != "") {
		result.errorf("database.tls.cert_file", "provide both cert_file and key_file, or neither",
			"both cert_file and key_file must be specified for client certificate authentication")
	}

	if t.Mode == "skip-verify" {
		result.warnf("database.tls.mode", "use verify-ca or verify-full in production",
			"skip-verify mode does not verify server certificates")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.errorf("server.port", "", "port %d is out of valid range (1-65535)", s.Port)
	}

	if s.RateLimit.Enabled {
		if s.RateLimit.RPS <= 0 {
			result.errorf("server.rate_limit.rps", "", "rps must be greater than 0 when rate limiting is enabled")
		}
		if s.RateLimit.Burst <= 0 {
			result.errorf("server.rate_limit.burst", "", "burst must be greater than 0 when rate limiting is enabled")
		}
	} else if s.RateLimit.RPS > 0 || s.RateLimit.Burst > 0 {
		result.warnf("server.rate_limit.enabled", "enable server.rate_limit.enabled to apply rate limits",
			"rate limit values are set but rate limiting is disabled")
	}

	if s.Admin.ReloadEnabled && strings.TrimSpace(s.Admin.AuthToken) == "" {
		result.errorf("server.admin.auth_token", "set server.admin.auth_token or server.admin.auth_token_file",
			"admin token is required when the reload endpoint is enabled")
	}

	for field, d := range map[string]int64{
		"server.read_timeout":         int64(s.ReadTimeout),
		"server.write_timeout":        int64(s.WriteTimeout),
		"server.idle_timeout":         int64(s.IdleTimeout),
		"server.shutdown_timeout":     int64(s.ShutdownTimeout),
		"server.health_check_timeout": int64(s.HealthCheckTimeout),
	} {
		if d < 0 {
			result.errorf(field, "", "timeout cannot be negative")
		}
	}

	switch s.TLSMode {
	case "", "off":
	case "file":
		if s.TLSCertFile == "" {
			result.errorf("server.tls_cert_file", "", "TLS cert file required when tls_mode is 'file'")
		}
		if s.TLSKeyFile == "" {
			result.errorf("server.tls_key_file", "", "TLS key file required when tls_mode is 'file'")
		}
	default:
		result.errorf("server.tls_mode", "valid values are: off, file", "invalid TLS mode %q", s.TLSMode)
	}
}

func (a *APIConfig) validate(result *ValidationResult) {
	if !strings.HasPrefix(a.BasePath, "/") {
		result.errorf("api.base_path", "use an absolute path such as /api", "base path %q must start with /", a.BasePath)
	}
	switch strings.TrimRight(a.BasePath, "/") {
	case "", "/health", "/metrics", "/admin":
		result.errorf("api.base_path", "use a dedicated prefix such as /api", "base path %q collides with a built-in route", a.BasePath)
	}

	if a.KeyRequired && strings.TrimSpace(a.Key) == "" {
		result.errorf("api.key", "set api.key or api.key_file, or disable api.key_required",
			"api key is required but not configured; every request would be denied")
	}
	if !a.KeyRequired {
		result.warnf("api.key_required", "enable api.key_required outside development",
			"endpoints are served without an API key")
	}
	if strings.TrimSpace(a.KeyHeader) == "" {
		result.errorf("api.key_header", "", "key header cannot be empty")
	}

	if strings.TrimSpace(a.PageParam) == "" || strings.TrimSpace(a.PageSizeParam) == "" {
		result.errorf("api.page_param", "", "page and page size parameter names cannot be empty")
	} else if a.PageParam == a.PageSizeParam {
		result.errorf("api.page_size_param", "", "page and page size parameters must differ")
	}
	if a.PageParam == "format" || a.PageSizeParam == "format" {
		result.errorf("api.page_param", "", "format is reserved for output format selection")
	}

	if a.MaxPageSize < 1 {
		result.errorf("api.max_page_size", "", "max_page_size must be greater than 0")
	}
	if a.DefaultPageSize < 1 {
		result.errorf("api.default_page_size", "", "default_page_size must be greater than 0")
	} else if a.MaxPageSize > 0 && a.DefaultPageSize > a.MaxPageSize {
		result.errorf("api.default_page_size", "", "default_page_size %d exceeds max_page_size %d", a.DefaultPageSize, a.MaxPageSize)
	}
}

func (d *DescriptionsConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(d.Dir) == "" {
		result.errorf("descriptions.dir", "point it at the directory holding *.yaml descriptions", "descriptions directory is required")
	}
	if d.RefreshMinInterval < 0 {
		result.errorf("descriptions.refresh_min_interval", "use 0 to disable polling", "refresh_min_interval cannot be negative")
	}
	if d.RefreshMinInterval > 0 && d.RefreshMaxInterval > 0 && d.RefreshMaxInterval < d.RefreshMinInterval {
		result.warnf("descriptions.refresh_max_interval", "the max interval is raised to the min interval",
			"refresh_max_interval is smaller than refresh_min_interval")
	}
}

func (c *CacheConfig) validate(result *ValidationResult) {
	switch c.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			result.errorf("cache.redis.addr", "", "redis address is required for the redis cache backend")
		} else if _, _, err := net.SplitHostPort(c.Redis.Addr); err != nil {
			result.errorf("cache.redis.addr", "use host:port", "invalid redis address %q", c.Redis.Addr)
		}
		if c.Redis.DB < 0 {
			result.errorf("cache.redis.db", "", "redis db cannot be negative")
		}
	default:
		result.errorf("cache.backend", "valid values are: memory, redis, none", "invalid cache backend %q", c.Backend)
	}

	if c.Backend != CacheNone && c.TTL <= 0 {
		result.errorf("cache.ttl", "set cache.backend=none to disable caching", "ttl must be greater than 0")
	}
	if c.Backend == CacheMemory && c.CleanupInterval <= 0 {
		result.warnf("cache.cleanup_interval", "expired entries are then only dropped on access",
			"cleanup_interval is not positive")
	}
}

func (e *EngineConfig) validate(result *ValidationResult) {
	if e.SelectConcurrency < 1 {
		result.errorf("engine.select_concurrency", "use 1 for sequential select fetches",
			"select_concurrency must be at least 1")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.errorf("observability.logging.level", "valid values are: debug, info, warn, error",
			"invalid log level %q", o.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.errorf("observability.logging.format", "valid values are: json, text",
			"invalid log format %q", o.Logging.Format)
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.errorf("observability.trace_sample_ratio", "", "trace_sample_ratio must be between 0 and 1")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.errorf(prefix+".protocol", "valid values are: grpc, http/protobuf", "invalid OTLP protocol %q", o.Protocol)
	}

	if o.Protocol == "http/protobuf" && o.Endpoint != "" && !validOTLPEndpoint(o.Endpoint) {
		result.errorf(prefix+".endpoint", "use host:port or a full URL",
			"invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.errorf(prefix+".compression", "valid values are: none, gzip", "invalid OTLP compression %q", o.Compression)
	}

	if o.RetryMaxAttempts < 0 {
		result.errorf(prefix+".retry_max_attempts", "", "retry_max_attempts cannot be negative")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
