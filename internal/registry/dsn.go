package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"catdb/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// buildPostgresDSN constructs a libpq keyword/value connection string.
// Extra parameters are appended in sorted key order so equivalent configs
// produce identical DSNs. A configured schema rides along as a search_path
// entry in the options parameter, which libpq applies to every physical
// connection the pool opens.
func buildPostgresDSN(cfg *domain.ConnectionConfig, password string) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	pairs := []string{
		"host=" + pqQuote(cfg.Host),
		fmt.Sprintf("port=%d", port),
		"user=" + pqQuote(cfg.User),
		"password=" + pqQuote(password),
		"dbname=" + pqQuote(cfg.Database),
	}

	params := map[string]string{}
	for k, v := range cfg.Params {
		params[k] = v
	}
	if _, ok := params["sslmode"]; !ok {
		params["sslmode"] = "disable"
	}
	if cfg.Schema != "" && !strings.Contains(params["options"], "search_path") {
		opt := "-c search_path=" + cfg.Schema
		if params["options"] != "" {
			opt = params["options"] + " " + opt
		}
		params["options"] = opt
	}
	for _, k := range sortedKeys(params) {
		pairs = append(pairs, k+"="+pqQuote(params[k]))
	}
	return strings.Join(pairs, " ")
}

// pqQuote single-quotes a keyword/value DSN value when it contains
// characters libpq would otherwise misparse.
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// buildPostgresURL constructs the postgres:// form of the same connection,
// used for handing off to external tools such as pg_dump.
func buildPostgresURL(cfg *domain.ConnectionConfig, password string) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(cfg.User, password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	for k, v := range cfg.Params {
		if k == "options" {
			continue
		}
		q.Set(k, v)
	}
	if _, ok := cfg.Params["sslmode"]; !ok {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// buildMySQLDSN constructs a go-sql-driver DSN.
// Format: user:password@tcp(host:port)/dbname?parseTime=true
func buildMySQLDSN(cfg *domain.ConnectionConfig, password string) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, password, cfg.Host, port, cfg.Database,
	)
	extra := map[string]string{}
	for k, v := range cfg.Params {
		switch strings.ToLower(k) {
		case "usessl", "ssl":
			if strings.EqualFold(v, "true") {
				extra["tls"] = "true"
			}
		case "sslmode":
			if v != "disable" {
				extra["tls"] = "true"
			}
		case "options":
			// libpq session syntax ("-c key=value"); go-sql-driver would
			// send it as SET options=... and the connection would fail.
		default:
			extra[k] = v
		}
	}
	for _, k := range sortedKeys(extra) {
		dsn += "&" + url.QueryEscape(k) + "=" + url.QueryEscape(extra[k])
	}
	return dsn
}

// buildSQLiteDSN is the file path itself; modernc.org/sqlite accepts it
// directly and creates the file on first use.
func buildSQLiteDSN(cfg *domain.ConnectionConfig) string {
	return cfg.Path
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// driverFor maps a connection kind to its database/sql driver name.
func driverFor(kind domain.Kind) string {
	switch kind {
	case domain.KindPostgres:
		return "postgres"
	case domain.KindMySQL:
		return "mysql"
	case domain.KindSQLite:
		return "sqlite"
	}
	return ""
}
