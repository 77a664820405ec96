package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"maps"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "galaxy-api-custom"

var defaultPorts = map[string]int{
	DriverSQLServer: 1433,
	DriverPostgres:  5432,
	DriverMySQL:     3306,
}

// SQLDriverName returns the database/sql driver name registered for Driver.
func (d *DatabaseConfig) SQLDriverName() string {
	if d.Driver == DriverPostgres {
		return "pgx"
	}
	return d.Driver
}

// EffectivePort returns Port, or the driver's default port when unset.
func (d *DatabaseConfig) EffectivePort() int {
	if d.Port > 0 {
		return d.Port
	}
	return defaultPorts[d.Driver]
}

// DSN returns the driver-specific data source name. A configured
// ConnectionString is used as is, except that MySQL DSNs always get
// parseTime and UTC locations.
func (d *DatabaseConfig) DSN() (string, error) {
	switch d.Driver {
	case DriverSQLServer:
		return d.sqlServerDSN(), nil
	case DriverPostgres:
		return d.postgresDSN(), nil
	case DriverMySQL:
		return d.mysqlDSN()
	case DriverSQLite:
		return d.sqliteDSN(), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", d.Driver)
	}
}

func (d *DatabaseConfig) hostPort() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.EffectivePort()))
}

func (d *DatabaseConfig) sqlServerDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	query := url.Values{}
	if d.Database != "" {
		query.Set("database", d.Database)
	}
	switch d.TLS.Mode {
	case "off":
		query.Set("encrypt", "disable")
	case "skip-verify":
		query.Set("encrypt", "true")
		query.Set("TrustServerCertificate", "true")
	case "verify-ca", "verify-full":
		query.Set("encrypt", "true")
		if d.TLS.CAFile != "" {
			query.Set("certificate", d.TLS.CAFile)
		}
		if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
			query.Set("hostNameInCertificate", d.TLS.ServerName)
		}
	}
	for k, v := range d.Params {
		query.Set(k, v)
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.hostPort(),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	query := url.Values{}
	switch d.TLS.Mode {
	case "off":
		query.Set("sslmode", "disable")
	case "skip-verify":
		query.Set("sslmode", "require")
	case "verify-ca", "verify-full":
		query.Set("sslmode", d.TLS.Mode)
	}
	if d.TLS.CAFile != "" {
		query.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" {
		query.Set("sslcert", d.TLS.CertFile)
	}
	if d.TLS.KeyFile != "" {
		query.Set("sslkey", d.TLS.KeyFile)
	}
	for k, v := range d.Params {
		query.Set(k, v)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.hostPort(),
		Path:     "/" + d.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (d *DatabaseConfig) mysqlDSN() (string, error) {
	var cfg *mysql.Config
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = d.hostPort()
		cfg.DBName = d.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.TLSConfig == "" {
		cfg.TLSConfig = d.effectiveTLSParam()
	}
	if len(d.Params) > 0 {
		if cfg.Params == nil {
			cfg.Params = make(map[string]string, len(d.Params))
		}
		maps.Copy(cfg.Params, d.Params)
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) sqliteDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	dsn := "file:" + d.Database
	if len(d.Params) > 0 {
		query := url.Values{}
		for k, v := range d.Params {
			query.Set(k, v)
		}
		dsn += "?" + query.Encode()
	}
	return dsn
}

// effectiveTLSParam returns the MySQL tls parameter for the configured mode.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a MySQL connection in verify-ca or
// verify-full mode; it is a no-op otherwise.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.Driver != DriverMySQL || (d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full") {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}
