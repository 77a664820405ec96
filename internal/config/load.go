package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable: GALAXY_DATABASE_DSN.
const EnvPrefix = "GALAXY"

var defineFlagsOnce sync.Once

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – secret files and the password prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() {
		DefineFlags(pflag.CommandLine)
	})
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return LoadFlagSet(pflag.CommandLine)
}

// LoadFlagSet loads configuration using a parsed flag set that carries the
// flags from DefineFlags. Only flags the user changed override other sources.
func LoadFlagSet(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Defaults (lowest priority)
	setDefaults(v)

	// --- Config file ---
	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("galaxy-api")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/galaxy-api/")
		v.AddConfigPath("$HOME/.galaxy-api")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// --- Environment variables ---
	// Canonical keys: dot + snake_case
	// Env vars: GALAXY_DATABASE_POOL_MAX_OPEN
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// --- Flags binding (highest normal priority) ---
	bindChangedFlagsToViper(fs, v)

	if err := resolveSecrets(v); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
				stringToStringMapHookFunc(",", "="),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// secretFile maps a *_file setting onto the value it fills.
type secretFile struct {
	fileKey  string
	valueKey string
	name     string
}

var secretFiles = []secretFile{
	{fileKey: "database.dsn_file", valueKey: "database.dsn", name: "database DSN"},
	{fileKey: "database.password_file", valueKey: "database.password", name: "database password"},
	{fileKey: "api.key_file", valueKey: "api.key", name: "API key"},
	{fileKey: "server.admin.auth_token_file", valueKey: "server.admin.auth_token", name: "admin auth token"},
	{fileKey: "cache.redis.password_file", valueKey: "cache.redis.password", name: "redis password"},
}

// resolveSecrets fills secrets from their files, then prompts for the
// database password when asked to. Values set directly win over files.
func resolveSecrets(v *viper.Viper) error {
	if err := checkStdinSecrets(v); err != nil {
		return err
	}

	for _, s := range secretFiles {
		path := strings.TrimSpace(v.GetString(s.fileKey))
		if v.GetString(s.valueKey) != "" || path == "" {
			continue
		}
		value, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", s.name, err)
		}
		if value == "" {
			return fmt.Errorf("%s file %q is empty", s.name, path)
		}
		v.Set(s.valueKey, value)
	}

	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}
	return nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringToString":
			val, _ := fs.GetStringToString(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags defines all configuration flags on fs using canonical
// snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	// Database flags
	fs.String("database.driver", "", "Database driver (sqlserver, postgres, mysql, sqlite3)")
	fs.String("database.dsn", "", "Complete driver DSN")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port (0 = driver default)")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name (file path for sqlite3)")
	fs.StringToString("database.params", nil, "Extra driver DSN parameters (key=value,...)")
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	// Server flags
	fs.Int("server.port", 0, "HTTP server port")
	fs.Bool("server.admin.reload_enabled", false, "Expose POST /admin/reload-descriptions")
	fs.String("server.admin.auth_token", "", "Shared token for admin endpoints")
	fs.String("server.admin.auth_token_file", "", "Path to file containing the admin token (use @- for stdin)")
	fs.String("server.admin.header_name", "", "Header carrying the admin token")
	fs.Bool("server.rate_limit.enabled", false, "Enable per-client rate limiting")
	fs.Float64("server.rate_limit.rps", 0, "Requests per second per client")
	fs.Int("server.rate_limit.burst", 0, "Burst size per client")
	fs.Duration("server.rate_limit.idle_ttl", 0, "Forget a client's bucket after this much idle time")
	fs.Duration("server.read_timeout", 0, "HTTP server read timeout")
	fs.Duration("server.write_timeout", 0, "HTTP server write timeout")
	fs.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	fs.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	fs.Duration("server.health_check_timeout", 0, "Health check timeout")
	fs.String("server.tls_mode", "", "TLS mode: off, file (default: off)")
	fs.String("server.tls_cert_file", "", "Path to TLS certificate file (for file mode)")
	fs.String("server.tls_key_file", "", "Path to TLS private key file (for file mode)")

	// API flags
	fs.String("api.base_path", "", "Mount path of the endpoint API")
	fs.String("api.key", "", "API key expected from clients")
	fs.String("api.key_file", "", "Path to file containing the API key (use @- for stdin)")
	fs.String("api.key_header", "", "Header carrying the API key")
	fs.Bool("api.key_required", false, "Require the API key on every endpoint request")
	fs.String("api.page_param", "", "Query parameter holding the page number")
	fs.String("api.page_size_param", "", "Query parameter holding the page size")
	fs.Int("api.default_page_size", 0, "Page size when the request does not name one")
	fs.Int("api.max_page_size", 0, "Largest accepted page size")
	fs.Bool("api.trust_proxy_headers", false, "Build page links from X-Forwarded-Proto/Host")

	// Description flags
	fs.String("descriptions.dir", "", "Directory holding endpoint descriptions")
	fs.Duration("descriptions.refresh_min_interval", 0, "Minimum interval between description change checks (0 = no polling)")
	fs.Duration("descriptions.refresh_max_interval", 0, "Maximum interval between description change checks")

	// Cache flags
	fs.String("cache.backend", "", "Query cache backend (memory, redis, none)")
	fs.Duration("cache.ttl", 0, "Cached result lifetime")
	fs.Duration("cache.cleanup_interval", 0, "Memory cache expiry sweep interval")
	fs.String("cache.redis.addr", "", "Redis address (host:port)")
	fs.String("cache.redis.password", "", "Redis password")
	fs.String("cache.redis.password_file", "", "Path to file containing the redis password (use @- for stdin)")
	fs.Int("cache.redis.db", 0, "Redis database number")
	fs.String("cache.redis.key_prefix", "", "Prefix for redis cache keys")

	// Engine flags
	fs.Int("engine.select_concurrency", 0, "Parallel select fetches per request (1 = sequential)")

	// Observability flags
	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio (0-1)")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")
	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	fs.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	fs.Duration("observability.traces.timeout", 0, "Timeout for trace exports")
	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	fs.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	fs.Bool("observability.logs.insecure", false, "Use insecure connection for logs")
	fs.Duration("observability.logs.timeout", 0, "Timeout for log exports")
	fs.String("observability.metrics.endpoint", "", "OTLP endpoint for metrics only")
	fs.Bool("observability.metrics.insecure", false, "Use insecure connection for metrics")
	fs.Duration("observability.metrics.timeout", 0, "Timeout for metric exports")

	// Config file flag
	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLServer)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "galaxy_api")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "galaxy")
	v.SetDefault("database.params", map[string]string{})
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 60*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin.reload_enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.admin.header_name", "X-Admin-Token")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.rps", 0.0)
	v.SetDefault("server.rate_limit.burst", 0)
	v.SetDefault("server.rate_limit.idle_ttl", 10*time.Minute)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.tls_mode", "off")
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	// API defaults
	v.SetDefault("api.base_path", "/api")
	v.SetDefault("api.key", "")
	v.SetDefault("api.key_file", "")
	v.SetDefault("api.key_header", "X-Api-Key")
	v.SetDefault("api.key_required", true)
	v.SetDefault("api.page_param", "page")
	v.SetDefault("api.page_size_param", "pagesize")
	v.SetDefault("api.default_page_size", 20)
	v.SetDefault("api.max_page_size", 1000)
	v.SetDefault("api.trust_proxy_headers", false)

	// Description defaults
	v.SetDefault("descriptions.dir", "descriptions")
	v.SetDefault("descriptions.refresh_min_interval", 30*time.Second)
	v.SetDefault("descriptions.refresh_max_interval", 5*time.Minute)

	// Cache defaults
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.cleanup_interval", time.Minute)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.password_file", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "")

	// Engine defaults
	v.SetDefault("engine.select_concurrency", 1)

	// Observability defaults
	v.SetDefault("observability.service_name", "galaxy-api")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// stdinPath in a *_file setting reads the secret from standard input.
const stdinPath = "@-"

var stdin io.Reader = os.Stdin

func readSecretFile(path string) (string, error) {
	r := stdin
	if path != stdinPath {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// checkStdinSecrets fails when more than one secret file reads stdin.
func checkStdinSecrets(v *viper.Viper) error {
	var keys []string
	for _, s := range secretFiles {
		if strings.TrimSpace(v.GetString(s.fileKey)) == stdinPath {
			keys = append(keys, s.fileKey)
		}
	}
	if len(keys) < 2 {
		return nil
	}
	return fmt.Errorf("only one secret can be read from stdin, but %s all use %s", strings.Join(keys, ", "), stdinPath)
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}

// stringToStringMapHookFunc decodes "a=1,b=2" (as env vars deliver maps)
// into map[string]string.
func stringToStringMapHookFunc(sep, kvSep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}

		out := map[string]string{}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return out, nil
		}
		for _, part := range strings.Split(raw, sep) {
			key, value, ok := strings.Cut(part, kvSep)
			if !ok {
				return nil, fmt.Errorf("invalid map entry %q, expected key%svalue", part, kvSep)
			}
			out[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		return out, nil
	}
}
