package registry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"catdb/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "connections.json"), nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// memStore is an in-memory secret.Store for tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newSQLiteFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func TestRegistry_AddFile(t *testing.T) {
	r := newTestRegistry(t)
	path := newSQLiteFile(t, "inventory.db")

	name, err := r.AddFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SQLite: inventory", name)
	assert.Equal(t, []string{"SQLite: inventory"}, r.List())
}

func TestRegistry_AddFile_Missing(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.AddFile(filepath.Join(t.TempDir(), "nope.db"))
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRegistry_AddFile_Disambiguates(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.AddFile(newSQLiteFile(t, "app.db"))
	require.NoError(t, err)
	second, err := r.AddFile(newSQLiteFile(t, "app.db"))
	require.NoError(t, err)
	third, err := r.AddFile(newSQLiteFile(t, "app.db"))
	require.NoError(t, err)

	assert.Equal(t, "SQLite: app", first)
	assert.Equal(t, "SQLite: app (1)", second)
	assert.Equal(t, "SQLite: app (2)", third)
}

func TestRegistry_Add_Validation(t *testing.T) {
	r := newTestRegistry(t)

	var invalid *domain.ValidationError

	_, err := r.Add("", "postgresql", map[string]string{"host": "h"})
	assert.ErrorAs(t, err, &invalid, "empty name")

	_, err = r.Add("c", "oracle", map[string]string{"host": "h"})
	assert.ErrorAs(t, err, &invalid, "unsupported kind")

	_, err = r.Add("c", "postgresql", map[string]string{"host": "h", "port": "notaport"})
	assert.ErrorAs(t, err, &invalid, "bad port")

	_, err = r.Add("c", "postgresql", map[string]string{})
	assert.ErrorAs(t, err, &invalid, "missing host")

	_, err = r.Add("c", "sqlite", map[string]string{})
	assert.ErrorAs(t, err, &invalid, "sqlite without path")
}

func TestRegistry_Add_AliasNormalization(t *testing.T) {
	r := newTestRegistry(t)

	name, err := r.Add("prod", "postgresql", map[string]string{
		"Host":     "db.internal",
		"username": "alice",
		"pwd":      "s3cret",
		"dbname":   "analytics",
	})
	require.NoError(t, err)

	cfg, err := r.Config(name)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.Equal(t, "analytics", cfg.Database)
	assert.Equal(t, 5432, cfg.Port, "default postgres port")
}

func TestRegistry_Add_DescriptorMerge(t *testing.T) {
	r := newTestRegistry(t)

	// Explicit fields win, descriptor fills the rest.
	name, err := r.Add("mix", "", map[string]string{
		"user": "override",
		"url":  "jdbc:mysql://ignored-user:pw@db.internal:3307/shop?serverTimezone=UTC",
	})
	require.NoError(t, err)

	cfg, err := r.Config(name)
	require.NoError(t, err)
	assert.Equal(t, domain.KindMySQL, cfg.Kind)
	assert.Equal(t, "override", cfg.User)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 3307, cfg.Port)
	assert.Equal(t, "shop", cfg.Database)
	assert.NotContains(t, cfg.Params, "serverTimezone")
}

func TestRegistry_Add_SchemaFromOptions(t *testing.T) {
	r := newTestRegistry(t)

	name, err := r.Add("pg", "postgresql", map[string]string{
		"host":     "h",
		"database": "db",
		"options":  `-c search_path="reporting",public`,
	})
	require.NoError(t, err)

	cfg, err := r.Config(name)
	require.NoError(t, err)
	assert.Equal(t, "reporting", cfg.Schema)
}

func TestRegistry_Get_SQLiteAndCache(t *testing.T) {
	r := newTestRegistry(t)
	name, err := r.AddFile(newSQLiteFile(t, "cache.db"))
	require.NoError(t, err)

	ctx := context.Background()
	lc, err := r.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, domain.KindSQLite, lc.Kind)
	assert.Equal(t, "sqlite", lc.DriverName)
	require.NoError(t, lc.DB().Ping())

	again, err := r.Get(ctx, name)
	require.NoError(t, err)
	assert.Same(t, lc, again, "second Get must reuse the live handle")
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(context.Background(), "nope")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRegistry_Remove_Idempotent(t *testing.T) {
	r := newTestRegistry(t)
	name, err := r.AddFile(newSQLiteFile(t, "gone.db"))
	require.NoError(t, err)

	require.NoError(t, r.Remove(name))
	assert.Empty(t, r.List())
	require.NoError(t, r.Remove(name), "removing twice is not an error")
}

func TestRegistry_ListSorted(t *testing.T) {
	r := newTestRegistry(t)
	for _, n := range []string{"zeta", "alpha", "mid"} {
		_, err := r.Add(n, "sqlite", map[string]string{"path": newSQLiteFile(t, n+".db")})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestRegistry_Get_ConcurrentSharesHandle(t *testing.T) {
	secrets := &memStore{}
	r, err := New(filepath.Join(t.TempDir(), "connections.json"), secrets, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	name, err := r.AddFile(newSQLiteFile(t, "busy.db"))
	require.NoError(t, err)
	// A secret-store password that differs from the stored one forces every
	// Get to rewrite the config while its siblings still hold snapshots.
	require.NoError(t, secrets.Set("db:"+name, []byte("recovered")))

	const callers = 8
	var wg sync.WaitGroup
	handles := make([]*LiveConnection, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = r.Get(context.Background(), name)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i], "all callers share one live handle")
	}
	cfg, err := r.Config(name)
	require.NoError(t, err)
	assert.Equal(t, "recovered", cfg.Password)
}

func TestRegistry_SecretStoreMirrorsPasswords(t *testing.T) {
	secrets := &memStore{}
	r, err := New(filepath.Join(t.TempDir(), "connections.json"), secrets, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	name, err := r.Add("prod", "postgresql", map[string]string{
		"host": "h", "user": "u", "password": "pw", "database": "db",
	})
	require.NoError(t, err)
	v, _ := secrets.Get("db:" + name)
	assert.Equal(t, []byte("pw"), v)

	require.NoError(t, r.Update(name, "postgresql", map[string]string{
		"host": "h", "user": "u", "password": "rotated", "database": "db",
	}))
	v, _ = secrets.Get("db:" + name)
	assert.Equal(t, []byte("rotated"), v)

	require.NoError(t, r.Remove(name))
	v, _ = secrets.Get("db:" + name)
	assert.Nil(t, v, "removing the connection clears its secret")
}

func TestRegistry_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connections.json")

	r1, err := New(path, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = r1.Add("prod", "postgresql", map[string]string{
		"host": "h", "user": "u", "password": "pw", "database": "db",
	})
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	r2, err := New(path, nil, zerolog.Nop())
	require.NoError(t, err)
	defer r2.Close()

	cfg, err := r2.Config("prod")
	require.NoError(t, err)
	assert.Equal(t, "pw", cfg.Password, "password survives the rot13 round trip")

	// The on-disk form must stay obfuscated.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"pw"`)
}
