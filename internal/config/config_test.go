package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "sqlserver discrete fields",
			config: DatabaseConfig{
				Driver:   DriverSQLServer,
				Host:     "db",
				User:     "sa",
				Password: "secret",
				Database: "galaxy",
				TLS:      DatabaseTLSConfig{Mode: "off"},
			},
			expected: "sqlserver://sa:secret@db:1433?database=galaxy&encrypt=disable",
		},
		{
			name: "sqlserver skip-verify",
			config: DatabaseConfig{
				Driver:   DriverSQLServer,
				Host:     "db",
				Port:     14330,
				User:     "sa",
				Password: "secret",
				Database: "galaxy",
				TLS:      DatabaseTLSConfig{Mode: "skip-verify"},
			},
			expected: "sqlserver://sa:secret@db:14330?TrustServerCertificate=true&database=galaxy&encrypt=true",
		},
		{
			name: "postgres with sslmode",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "pg",
				User:     "app",
				Password: "pw",
				Database: "galaxy",
				TLS:      DatabaseTLSConfig{Mode: "off"},
			},
			expected: "postgres://app:pw@pg:5432/galaxy?sslmode=disable",
		},
		{
			name: "postgres verify-full with CA",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "pg",
				User:     "app",
				Password: "pw",
				Database: "galaxy",
				TLS:      DatabaseTLSConfig{Mode: "verify-full", CAFile: "/ca.pem"},
			},
			expected: "postgres://app:pw@pg:5432/galaxy?sslmode=verify-full&sslrootcert=%2Fca.pem",
		},
		{
			name: "mysql discrete fields",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:3306)/test?parseTime=true",
		},
		{
			name: "mysql special characters in password",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "db.example.com",
				Port:     3307,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3307)/mydb?parseTime=true",
		},
		{
			name: "sqlite file",
			config: DatabaseConfig{
				Driver:   DriverSQLite,
				Database: "/var/lib/galaxy.db",
				Params:   map[string]string{"mode": "ro"},
			},
			expected: "file:/var/lib/galaxy.db?mode=ro",
		},
		{
			name: "explicit dsn wins",
			config: DatabaseConfig{
				Driver:           DriverPostgres,
				ConnectionString: "postgres://u@h/db",
				Host:             "ignored",
			},
			expected: "postgres://u@h/db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.config.DSN()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDatabaseConfig_DSN_MySQLForcesParseTime(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:           DriverMySQL,
		ConnectionString: "root:pw@tcp(h:4000)/db",
		TLS:              DatabaseTLSConfig{Mode: "verify-full"},
	}
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "tls="+tlsConfigName)
}

func TestDatabaseConfig_DSN_Errors(t *testing.T) {
	_, err := (&DatabaseConfig{Driver: "oracle"}).DSN()
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = (&DatabaseConfig{Driver: DriverMySQL, ConnectionString: "not a dsn"}).DSN()
	assert.ErrorContains(t, err, "invalid mysql dsn")
}

func TestDatabaseConfig_SQLDriverName(t *testing.T) {
	assert.Equal(t, "pgx", (&DatabaseConfig{Driver: DriverPostgres}).SQLDriverName())
	assert.Equal(t, "sqlserver", (&DatabaseConfig{Driver: DriverSQLServer}).SQLDriverName())
	assert.Equal(t, "sqlite3", (&DatabaseConfig{Driver: DriverSQLite}).SQLDriverName())
}

func TestDatabaseConfig_RegisterTLS_NoopOutsideMySQLVerify(t *testing.T) {
	cfg := DatabaseConfig{Driver: DriverPostgres, TLS: DatabaseTLSConfig{Mode: "verify-full", CAFile: "/missing"}}
	assert.NoError(t, cfg.RegisterTLS())

	cfg = DatabaseConfig{Driver: DriverMySQL, TLS: DatabaseTLSConfig{Mode: "skip-verify"}}
	assert.NoError(t, cfg.RegisterTLS())

	cfg = DatabaseConfig{Driver: DriverMySQL, TLS: DatabaseTLSConfig{Mode: "verify-ca", CAFile: filepath.Join(t.TempDir(), "missing.pem")}}
	assert.ErrorContains(t, cfg.RegisterTLS(), "failed to read CA file")
}

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFlagSet_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadFlagSet(newFlagSet(t))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLServer, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/api", cfg.API.BasePath)
	assert.True(t, cfg.API.KeyRequired)
	assert.Equal(t, "page", cfg.API.PageParam)
	assert.Equal(t, "pagesize", cfg.API.PageSizeParam)
	assert.Equal(t, 20, cfg.API.DefaultPageSize)
	assert.Equal(t, 1000, cfg.API.MaxPageSize)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1, cfg.Engine.SelectConcurrency)
	assert.Equal(t, "galaxy-api", cfg.Observability.ServiceName)
}

func TestLoadFlagSet_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "galaxy-api.yaml", `
database:
  driver: postgres
  host: filehost
  params:
    application_name: galaxy
server:
  port: 9000
api:
  key: file-key
descriptions:
  dir: /srv/descriptions
`)

	t.Run("file", func(t *testing.T) {
		cfg, err := LoadFlagSet(newFlagSet(t, "--config", cfgPath))
		require.NoError(t, err)
		assert.Equal(t, DriverPostgres, cfg.Database.Driver)
		assert.Equal(t, "filehost", cfg.Database.Host)
		assert.Equal(t, map[string]string{"application_name": "galaxy"}, cfg.Database.Params)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "file-key", cfg.API.Key)
		assert.Equal(t, "/srv/descriptions", cfg.Descriptions.Dir)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("GALAXY_SERVER_PORT", "9100")
		t.Setenv("GALAXY_DATABASE_HOST", "envhost")
		cfg, err := LoadFlagSet(newFlagSet(t, "--config", cfgPath))
		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, "envhost", cfg.Database.Host)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("GALAXY_SERVER_PORT", "9100")
		cfg, err := LoadFlagSet(newFlagSet(t, "--config", cfgPath, "--server.port=9200", "--cache.backend=none"))
		require.NoError(t, err)
		assert.Equal(t, 9200, cfg.Server.Port)
		assert.Equal(t, CacheNone, cfg.Cache.Backend)
	})
}

func TestLoadFlagSet_MissingExplicitConfigFile(t *testing.T) {
	_, err := LoadFlagSet(newFlagSet(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadFlagSet_UnknownKeyRejected(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "galaxy-api.yaml", "api:\n  keyy: typo\n")
	_, err := LoadFlagSet(newFlagSet(t, "--config", cfgPath))
	assert.ErrorContains(t, err, "failed to unmarshal config")
}

func TestLoadFlagSet_SecretFiles(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeFile(t, dir, "api-key", "  s3cret\n")
	tokenPath := writeFile(t, dir, "admin-token", "admin-token\n")
	emptyPath := writeFile(t, dir, "empty", "\n")

	cfg, err := LoadFlagSet(newFlagSet(t,
		"--config", writeFile(t, dir, "galaxy-api.yaml", "server:\n  port: 8080\n"),
		"--api.key_file", keyPath,
		"--server.admin.auth_token_file", tokenPath,
	))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.API.Key)
	assert.Equal(t, "admin-token", cfg.Server.Admin.AuthToken)

	// A value set directly is not replaced by the file.
	cfg, err = LoadFlagSet(newFlagSet(t,
		"--config", filepath.Join(dir, "galaxy-api.yaml"),
		"--api.key", "direct",
		"--api.key_file", keyPath,
	))
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.API.Key)

	_, err = LoadFlagSet(newFlagSet(t, "--config", filepath.Join(dir, "galaxy-api.yaml"), "--api.key_file", emptyPath))
	assert.ErrorContains(t, err, "is empty")
}

func TestObservabilityConfig_SignalConfigMerge(t *testing.T) {
	cfg := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Compression: "gzip",
			Timeout:     10 * time.Second,
			Headers:     map[string]string{"a": "1"},
		},
		Traces: &OTLPConfig{
			Endpoint: "tempo:4318",
			Protocol: "http/protobuf",
			Headers:  map[string]string{"b": "2"},
		},
	}

	traces := cfg.TracesExporter()
	assert.Equal(t, "tempo:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.Equal(t, "gzip", traces.Compression)
	assert.Equal(t, 10*time.Second, traces.Timeout)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)

	logs := cfg.LogsExporter()
	assert.Equal(t, "collector:4317", logs.Endpoint)
	assert.Equal(t, "grpc", logs.Protocol)
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver:                  DriverSQLServer,
				Host:                    "localhost",
				User:                    "galaxy",
				Database:                "galaxy",
				TLS:                     DatabaseTLSConfig{Mode: "off"},
				Pool:                    PoolConfig{MaxOpen: 25, MaxIdle: 5},
				ConnectionTimeout:       time.Minute,
				ConnectionRetryInterval: 2 * time.Second,
			},
			Server: ServerConfig{Port: 8080, TLSMode: "off"},
			API: APIConfig{
				BasePath:        "/api",
				Key:             "k",
				KeyHeader:       "X-Api-Key",
				KeyRequired:     true,
				PageParam:       "page",
				PageSizeParam:   "pagesize",
				DefaultPageSize: 20,
				MaxPageSize:     1000,
			},
			Descriptions: DescriptionsConfig{Dir: "descriptions", RefreshMinInterval: 30 * time.Second, RefreshMaxInterval: 5 * time.Minute},
			Cache:        CacheConfig{Backend: CacheMemory, TTL: time.Minute, CleanupInterval: time.Minute},
			Engine:       EngineConfig{SelectConcurrency: 1},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging:          LoggingConfig{Level: "info", Format: "json"},
				OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"sqlite without path", func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.Database = ""
		}, "database.database"},
		{"port out of range", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"verify-ca without CA", func(c *Config) { c.Database.TLS.Mode = "verify-ca" }, "database.tls.ca_file"},
		{"half client cert", func(c *Config) { c.Database.TLS.CertFile = "c.pem" }, "database.tls.cert_file"},
		{"timeout without retry", func(c *Config) { c.Database.ConnectionRetryInterval = 0 }, "database.connection_retry_interval"},
		{"server port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"tls file without cert", func(c *Config) { c.Server.TLSMode = "file" }, "server.tls_cert_file"},
		{"tls auto unsupported", func(c *Config) { c.Server.TLSMode = "auto" }, "server.tls_mode"},
		{"rate limit without rps", func(c *Config) {
			c.Server.RateLimit = RateLimitConfig{Enabled: true, Burst: 5}
		}, "server.rate_limit.rps"},
		{"reload without token", func(c *Config) { c.Server.Admin.ReloadEnabled = true }, "server.admin.auth_token"},
		{"key required without key", func(c *Config) { c.API.Key = "" }, "api.key"},
		{"base path collides", func(c *Config) { c.API.BasePath = "/metrics" }, "api.base_path"},
		{"same page params", func(c *Config) { c.API.PageSizeParam = "page" }, "api.page_size_param"},
		{"default exceeds max", func(c *Config) { c.API.DefaultPageSize = 2000 }, "api.default_page_size"},
		{"descriptions dir", func(c *Config) { c.Descriptions.Dir = " " }, "descriptions.dir"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"cache ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"redis addr", func(c *Config) {
			c.Cache.Backend = CacheRedis
			c.Cache.Redis.Addr = "redis"
		}, "cache.redis.addr"},
		{"select concurrency", func(c *Config) { c.Engine.SelectConcurrency = 0 }, "engine.select_concurrency"},
		{"log level", func(c *Config) { c.Observability.Logging.Level = "verbose" }, "observability.logging.level"},
		{"sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 1.5 }, "observability.trace_sample_ratio"},
		{"otlp protocol", func(c *Config) { c.Observability.OTLP.Protocol = "udp" }, "observability.otlp.protocol"},
		{"traces compression", func(c *Config) {
			c.Observability.Traces = &OTLPConfig{Compression: "zstd"}
		}, "observability.traces.compression"},
	}

	t.Run("valid", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors(), result.Error())
		assert.Empty(t, result.Error())
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.wantField)
			assert.True(t, strings.Contains(result.Error(), tt.wantField))
		})
	}
}

func TestConfig_ValidateWarnings(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Database: "galaxy.db",
			TLS:      DatabaseTLSConfig{Mode: "skip-verify"},
			Pool:     PoolConfig{MaxOpen: 1, MaxIdle: 2},
		},
		Server:       ServerConfig{Port: 8080, RateLimit: RateLimitConfig{RPS: 5}},
		API:          APIConfig{BasePath: "/api", KeyHeader: "X-Api-Key", PageParam: "page", PageSizeParam: "pagesize", DefaultPageSize: 20, MaxPageSize: 100},
		Descriptions: DescriptionsConfig{Dir: "d"},
		Cache:        CacheConfig{Backend: CacheNone},
		Engine:       EngineConfig{SelectConcurrency: 2},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "debug", Format: "text"},
		},
	}

	result := cfg.Validate()
	require.False(t, result.HasErrors(), result.Error())

	var fields []string
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.Contains(t, fields, "database.tls.mode")
	assert.Contains(t, fields, "database.pool.max_idle")
	assert.Contains(t, fields, "server.rate_limit.enabled")
	assert.Contains(t, fields, "api.key_required")
}
