// Package connstr parses JDBC-style connection descriptors into normalized
// fields. Parsing is pure and deterministic: no I/O, no driver calls, so the
// registry can round-trip persisted configurations through it safely.
package connstr

import (
	"net/url"
	"strconv"
	"strings"

	"catdb/internal/domain"
)

const prefix = "jdbc:"

// Fields is the normalized form of a descriptor.
type Fields struct {
	Kind     domain.Kind
	Host     string
	Port     int
	Database string
	Username string
	Password string
	// Schema is the consolidated search-path value, when any of the
	// schema aliases (schema, search_path, currentSchema) was present.
	Schema string
	// Params holds the remaining driver parameters after consolidation.
	// Alias keys that were folded into Schema/options are removed so they
	// are never forwarded verbatim to a driver that rejects them.
	Params map[string]string
}

var schemaAliases = []string{"schema", "search_path", "currentSchema"}

// Parse parses a descriptor of the shape
//
//	jdbc:scheme://[user[:pass]@]host[:port]/database[?k=v&...]
//
// It returns a *domain.ParseError when the descriptor does not start with
// the jdbc: marker or the remainder is not a valid URI.
func Parse(descriptor string) (*Fields, error) {
	if !strings.HasPrefix(descriptor, prefix) {
		return nil, &domain.ParseError{Descriptor: descriptor, Reason: "not a JDBC URL"}
	}
	u, err := url.Parse(descriptor[len(prefix):])
	if err != nil {
		return nil, &domain.ParseError{Descriptor: descriptor, Reason: err.Error()}
	}

	f := &Fields{Kind: kindFromScheme(u.Scheme), Params: map[string]string{}}

	if u.User != nil {
		f.Username = u.User.Username()
		f.Password, _ = u.User.Password()
	}
	f.Host = u.Hostname()
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			f.Port = n
		}
	}
	f.Database = strings.TrimPrefix(u.Path, "/")

	// First query value wins for repeated keys.
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			f.Params[k] = vs[0]
		}
	}

	consolidate(f)
	return f, nil
}

func kindFromScheme(scheme string) domain.Kind {
	s := strings.ToLower(scheme)
	switch {
	case strings.HasPrefix(s, "postgresql"):
		return domain.KindPostgres
	case strings.HasPrefix(s, "mysql"):
		return domain.KindMySQL
	default:
		// Fall back to the first +-delimited token, so e.g.
		// "sqlite+driver" still yields a usable kind.
		return domain.Kind(strings.SplitN(s, "+", 2)[0])
	}
}

// consolidate remaps vendor-specific parameters onto their normalized
// equivalents and strips the alias keys from the generic parameter bag.
func consolidate(f *Fields) {
	// Disable-TLS flags map onto sslmode=disable.
	for _, key := range []string{"ssl", "useSSL"} {
		if v, ok := lookupFold(f.Params, key); ok {
			if strings.EqualFold(v, "false") {
				f.Params["sslmode"] = "disable"
			}
			deleteFold(f.Params, key)
		}
	}

	// Schema aliases consolidate into one schema field and are folded into
	// the libpq options string so session search_path is applied.
	for _, key := range schemaAliases {
		if v, ok := lookupFold(f.Params, key); ok && v != "" {
			if f.Schema == "" {
				f.Schema = v
			}
			deleteFold(f.Params, key)
		}
	}
	if f.Schema != "" {
		appendOption(f.Params, "-c search_path="+f.Schema)
	}

	// Timezone aliases append a TimeZone session option. All alias keys
	// are removed even when only the first carries a value.
	var tz string
	for _, key := range []string{"TimeZone", "serverTimezone", "timezone"} {
		if v, ok := lookupFold(f.Params, key); ok {
			if tz == "" {
				tz = v
			}
			deleteFold(f.Params, key)
		}
	}
	if tz != "" {
		appendOption(f.Params, "-c TimeZone="+tz)
	}

	// Client encoding hints are assumed UTF-8 and dropped.
	deleteFold(f.Params, "characterEncoding")
}

// appendOption space-joins opt onto the params "options" value, never
// overwriting earlier fragments.
func appendOption(params map[string]string, opt string) {
	if existing := params["options"]; existing != "" {
		params["options"] = existing + " " + opt
		return
	}
	params["options"] = opt
}

func lookupFold(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func deleteFold(m map[string]string, key string) {
	for k := range m {
		if strings.EqualFold(k, key) {
			delete(m, k)
		}
	}
}
