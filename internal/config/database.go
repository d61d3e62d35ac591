package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName registers the custom TLS config with the MySQL driver.
const tlsConfigName = "relgraph-custom"

// DSN returns the go-sql-driver data source name. A configured connection
// string wins over the discrete fields; parseTime and UTC are always enforced
// because temporal scalars are rendered from time.Time in UTC.
func (d *DatabaseConfig) DSN() string {
	var dsn string
	if d.ConnectionString != "" {
		dsn = d.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		if !strings.Contains(dsn, "loc=") {
			dsn += "&loc=UTC"
		}
	} else {
		dsn = fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Database,
		)
	}

	if param := d.effectiveTLSParam(); param != "" && !strings.Contains(dsn, "tls=") {
		dsn += fmt.Sprintf("&tls=%s", param)
	}
	return dsn
}

// EffectiveDatabaseName returns the database targeted for introspection. An
// explicit database.database must agree with the DSN when both are set.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	configured := strings.TrimSpace(d.Database)
	fromDSN, err := parseDSNDatabaseName(d.ConnectionString)
	if err != nil {
		return "", err
	}

	if configured != "" {
		if fromDSN != "" && configured != fromDSN {
			return "", fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q",
				configured, fromDSN)
		}
		return configured, nil
	}
	if fromDSN != "" {
		return fromDSN, nil
	}
	return "", fmt.Errorf("no database name configured: set database.database or include /<database> in database.dsn")
}

func parseDSNDatabaseName(connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return "", nil
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}

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

// RegisterTLS registers the custom TLS configuration with the MySQL driver.
// Must run before sql.Open when mode is verify-ca or verify-full.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}
	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("build database TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("register database TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.TLS.CAFile != "" {
		pem, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file %q: %w", d.TLS.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("cert_file and key_file must both be set for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}
