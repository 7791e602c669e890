package domain

// Kind identifies the database engine behind a connection.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgresql"
	KindMySQL    Kind = "mysql"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSQLite, KindPostgres, KindMySQL:
		return true
	}
	return false
}

// ConnectionConfig is the persisted record for a named connection.
// The password is obfuscated (reversible rot13) before it reaches disk;
// in memory it is always the plain value. For sqlite, Path replaces
// host/user/password/database.
type ConnectionConfig struct {
	Kind     Kind              `json:"kind"`
	Driver   string            `json:"driver,omitempty"`
	Host     string            `json:"host,omitempty"`
	Port     int               `json:"port,omitempty"`
	User     string            `json:"user,omitempty"`
	Password string            `json:"password,omitempty"`
	Database string            `json:"database,omitempty"`
	Schema   string            `json:"schema,omitempty"`
	Path     string            `json:"path,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// registry's stored record.
func (c ConnectionConfig) Clone() ConnectionConfig {
	out := c
	if c.Params != nil {
		out.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}
