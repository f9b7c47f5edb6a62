package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const defaultPostgresPort = 5432

// DatabaseURL holds the pieces of a DATABASE_URL after parsing. Params
// carries any query options beyond sslmode (application_name and the
// like), preserved verbatim.
type DatabaseURL struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string
}

// ParseDatabaseURL splits a postgres:// or postgresql:// connection URL
// into its components. sslmode defaults to disable when the URL does not
// name one.
func ParseDatabaseURL(rawURL string) (*DatabaseURL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}

	d := &DatabaseURL{
		Host:     u.Hostname(),
		Port:     defaultPostgresPort,
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
		Params:   map[string]string{},
	}

	if p := u.Port(); p != "" {
		d.Port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in database URL: %w", err)
		}
	}

	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}

	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "sslmode" {
			d.SSLMode = values[0]
			continue
		}
		d.Params[key] = values[0]
	}

	return d, nil
}

// BuildDatabaseURL assembles a postgres:// URL from components. The
// password is escaped so credentials with URL metacharacters survive.
func BuildDatabaseURL(host string, port int, user, password, database, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, url.QueryEscape(password), host, port, database, sslMode)
}

// ToDSN renders the libpq key=value form. Extra params are appended in
// key order so the output is stable.
func (d *DatabaseURL) ToDSN() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)

	keys := make([]string, 0, len(d.Params))
	for key := range d.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, d.Params[key])
	}

	return b.String()
}

// ToURL renders the URL form back out.
func (d *DatabaseURL) ToURL() string {
	return BuildDatabaseURL(d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}
