// Package registry keeps the set of named database connections: persisted
// configuration, lazy live handles, reconnection with password recovery,
// and idle-handle reaping.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"catdb/internal/connstr"
	"catdb/internal/deadline"
	"catdb/internal/domain"
	"catdb/internal/secret"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	probeTimeout = 5 * time.Second
	idleTTL      = 15 * time.Minute
)

// search_path may also arrive embedded in a raw libpq options string.
var searchPathRe = regexp.MustCompile(`search_path\s*=\s*([\w",]+)`)

// LiveConnection is an open handle to a configured database. The embedded
// *sql.DB is itself a pool; one LiveConnection is shared by every caller
// using that connection name.
type LiveConnection struct {
	Name       string
	Kind       domain.Kind
	DriverName string
	URL        string // postgres:// form for external tools, empty otherwise

	dsn      string
	db       *sql.DB
	mu       sync.Mutex
	lastUsed time.Time
}

// DB returns the underlying handle and marks the connection as used.
func (lc *LiveConnection) DB() *sql.DB {
	lc.mu.Lock()
	lc.lastUsed = time.Now()
	lc.mu.Unlock()
	return lc.db
}

func (lc *LiveConnection) idleSince() time.Time {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.lastUsed
}

// Registry owns connection configuration and live handles.
type Registry struct {
	mu      sync.Mutex
	configs map[string]*domain.ConnectionConfig
	live    map[string]*LiveConnection

	store   *Store
	secrets secret.Store
	log     zerolog.Logger
	reaper  *cron.Cron
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New loads existing configuration from path and starts the idle reaper
// and the config-file watcher. Passwords are mirrored into secrets when a
// store is given; a nil store keeps everything in the connections file.
func New(path string, secrets secret.Store, logger zerolog.Logger) (*Registry, error) {
	store := NewStore(path)
	configs, err := store.Load()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		configs: configs,
		live:    map[string]*LiveConnection{},
		store:   store,
		secrets: secrets,
		log:     logger.With().Str("component", "registry").Logger(),
		done:    make(chan struct{}),
	}

	r.reaper = cron.New()
	if _, err := r.reaper.AddFunc("@every 1m", r.reapIdle); err != nil {
		return nil, fmt.Errorf("schedule idle reaper: %w", err)
	}
	r.reaper.Start()

	r.startWatcher(path)
	return r, nil
}

// startWatcher reloads configuration when another process rewrites the
// connections file. Live handles are kept; only vanished configs drop.
func (r *Registry) startWatcher(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Warn().Err(err).Msg("config watcher unavailable")
		return
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		r.log.Warn().Err(err).Str("dir", dir).Msg("cannot watch config dir")
		watcher.Close()
		return
	}
	r.watcher = watcher

	abs, _ := filepath.Abs(path)
	go func() {
		var timer *time.Timer
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, _ := filepath.Abs(event.Name)
				if name != abs || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
					continue
				}
				// Debounce editors that write in several syscalls.
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(300*time.Millisecond, r.reloadConfigs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
}

func (r *Registry) reloadConfigs() {
	configs, err := r.store.Load()
	if err != nil {
		r.log.Warn().Err(err).Msg("reload connections file failed")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = configs
	for name, lc := range r.live {
		if _, ok := configs[name]; !ok {
			lc.db.Close()
			delete(r.live, name)
		}
	}
	r.log.Debug().Int("count", len(configs)).Msg("connections reloaded from disk")
}

// reapIdle closes live handles that have not been used within idleTTL.
// The configuration stays; the next Get reconnects transparently.
func (r *Registry) reapIdle() {
	cutoff := time.Now().Add(-idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, lc := range r.live {
		if lc.idleSince().Before(cutoff) {
			lc.db.Close()
			delete(r.live, name)
			r.log.Debug().Str("connection", name).Msg("closed idle connection")
		}
	}
}

// AddFile registers a SQLite database by file path. The display name is
// derived from the file's base name and disambiguated when taken.
func (r *Registry) AddFile(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", &domain.NotFoundError{Name: path}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	cfg := &domain.ConnectionConfig{Kind: domain.KindSQLite, Path: abs}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := r.uniqueName("SQLite: " + base)
	r.configs[name] = cfg
	if err := r.store.Save(r.configs); err != nil {
		delete(r.configs, name)
		return "", err
	}
	return name, nil
}

// Add registers a server connection from loosely-typed parameters: explicit
// host/port/user fields, common alias spellings, and optionally a jdbc:
// descriptor under the "url" key. Explicit fields win over descriptor
// fields. No connectivity probe happens here; the first Get does that.
func (r *Registry) Add(name, kind string, params map[string]string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &domain.ValidationError{Reason: "connection name is required"}
	}
	cfg, err := buildConfig(kind, params)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	final := r.uniqueName(name)
	r.configs[final] = cfg
	if err := r.store.Save(r.configs); err != nil {
		delete(r.configs, final)
		return "", err
	}
	r.storeSecret(final, cfg.Password)
	return final, nil
}

// storeSecret mirrors a password into the secret store. Best effort: the
// connections file remains the source of truth. Caller holds r.mu.
func (r *Registry) storeSecret(name, password string) {
	if r.secrets == nil || password == "" {
		return
	}
	if err := r.secrets.Set("db:"+name, []byte(password)); err != nil {
		r.log.Warn().Err(err).Str("connection", name).Msg("store password in secret store failed")
	}
}

// Update replaces the configuration under an existing name and drops any
// live handle so the next Get reconnects with the new settings.
func (r *Registry) Update(name, kind string, params map[string]string) error {
	cfg, err := buildConfig(kind, params)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[name]; !ok {
		return &domain.NotFoundError{Name: name}
	}
	r.configs[name] = cfg
	if lc, ok := r.live[name]; ok {
		lc.db.Close()
		delete(r.live, name)
	}
	if err := r.store.Save(r.configs); err != nil {
		return err
	}
	r.storeSecret(name, cfg.Password)
	return nil
}

func buildConfig(kind string, params map[string]string) (*domain.ConnectionConfig, error) {
	p := normalizeAliases(params)

	cfg := &domain.ConnectionConfig{
		Kind:     domain.Kind(strings.ToLower(kind)),
		Host:     p["host"],
		User:     p["user"],
		Password: p["password"],
		Database: p["database"],
		Schema:   p["schema"],
		Path:     p["path"],
		Params:   map[string]string{},
	}
	for k, v := range p {
		switch k {
		case "host", "port", "user", "password", "database", "schema", "path", "url":
		default:
			cfg.Params[k] = v
		}
	}
	if p["port"] != "" {
		port, err := strconv.Atoi(p["port"])
		if err != nil || port <= 0 || port > 65535 {
			return nil, &domain.ValidationError{Reason: fmt.Sprintf("invalid port %q", p["port"])}
		}
		cfg.Port = port
	}

	// A jdbc: descriptor fills in whatever the explicit fields left blank.
	if raw := p["url"]; raw != "" {
		fields, err := connstr.Parse(raw)
		if err != nil {
			return nil, err
		}
		mergeDescriptor(cfg, fields)
	}

	if !cfg.Kind.Valid() {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("unsupported database kind %q", kind)}
	}
	if cfg.Kind == domain.KindSQLite {
		if cfg.Path == "" {
			return nil, &domain.ValidationError{Reason: "sqlite connection requires a file path"}
		}
		return cfg, nil
	}

	if cfg.Host == "" {
		return nil, &domain.ValidationError{Reason: "host is required"}
	}
	if cfg.Port == 0 {
		if cfg.Kind == domain.KindMySQL {
			cfg.Port = 3306
		} else {
			cfg.Port = 5432
		}
	}
	if cfg.Schema == "" {
		if m := searchPathRe.FindStringSubmatch(cfg.Params["options"]); m != nil {
			cfg.Schema = strings.Trim(strings.Split(m[1], ",")[0], `"`)
		}
	}
	return cfg, nil
}

func mergeDescriptor(cfg *domain.ConnectionConfig, f *connstr.Fields) {
	if cfg.Kind == "" || !cfg.Kind.Valid() {
		cfg.Kind = f.Kind
	}
	if cfg.Host == "" {
		cfg.Host = f.Host
	}
	if cfg.Port == 0 {
		cfg.Port = f.Port
	}
	if cfg.User == "" {
		cfg.User = f.Username
	}
	if cfg.Password == "" {
		cfg.Password = f.Password
	}
	if cfg.Database == "" {
		cfg.Database = f.Database
	}
	if cfg.Schema == "" {
		cfg.Schema = f.Schema
	}
	for k, v := range f.Params {
		if _, ok := cfg.Params[k]; !ok {
			cfg.Params[k] = v
		}
	}
}

// normalizeAliases folds the alternate parameter spellings the UI and jdbc
// world use onto canonical keys.
func normalizeAliases(params map[string]string) map[string]string {
	aliases := map[string]string{
		"username": "user",
		"uid":      "user",
		"pwd":      "password",
		"pass":     "password",
		"dbname":   "database",
		"db":       "database",
		"server":   "host",
		"hostname": "host",
		"file":     "path",
		"filepath": "path",
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		key := strings.ToLower(strings.TrimSpace(k))
		if canon, ok := aliases[key]; ok {
			key = canon
		}
		if _, taken := out[key]; !taken {
			out[key] = v
		}
	}
	return out
}

// uniqueName appends " (n)" until the name is free. Caller holds r.mu.
func (r *Registry) uniqueName(name string) string {
	if _, taken := r.configs[name]; !taken {
		return name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if _, taken := r.configs[candidate]; !taken {
			return candidate
		}
	}
}

// Get returns the live handle for name, opening and probing it if needed.
//
// Reconnection tries the secret-store password first, then the one from the
// connections file, then its rot13 image, which recovers configs written by
// builds that stored the password already obfuscated. When a later candidate
// works, the connections file is rewritten with it so the next load needs no
// retry.
func (r *Registry) Get(ctx context.Context, name string) (*LiveConnection, error) {
	r.mu.Lock()
	if lc, ok := r.live[name]; ok {
		r.mu.Unlock()
		return lc, nil
	}
	stored, ok := r.configs[name]
	if !ok {
		r.mu.Unlock()
		return nil, &domain.NotFoundError{Name: name}
	}
	// Probe against a snapshot so the password write-back below cannot race
	// a concurrent Get reading the shared config.
	cfg := stored.Clone()
	r.mu.Unlock()

	var candidates []string
	if r.secrets != nil {
		if v, err := r.secrets.Get("db:" + name); err == nil && len(v) > 0 {
			candidates = append(candidates, string(v))
		}
	}
	candidates = append(candidates, cfg.Password)
	if alt := secret.Rotate13(cfg.Password); alt != cfg.Password {
		candidates = append(candidates, alt)
	}

	var last error
	tried := map[string]bool{}
	for _, password := range candidates {
		if tried[password] {
			continue
		}
		tried[password] = true
		lc, err := r.open(ctx, name, &cfg, password)
		if err != nil {
			last = err
			continue
		}
		if password != cfg.Password {
			r.mu.Lock()
			if current, ok := r.configs[name]; ok {
				current.Password = password
				if err := r.store.Save(r.configs); err != nil {
					r.log.Warn().Err(err).Msg("persist recovered password failed")
				}
			}
			r.mu.Unlock()
		}
		r.mu.Lock()
		// Another caller may have raced us here; keep the first winner.
		if existing, ok := r.live[name]; ok {
			r.mu.Unlock()
			lc.db.Close()
			return existing, nil
		}
		r.live[name] = lc
		r.mu.Unlock()
		r.log.Debug().Str("connection", name).Msg("connection opened")
		return lc, nil
	}
	return nil, &domain.UnavailableError{Name: name, Last: last}
}

func (r *Registry) open(ctx context.Context, name string, cfg *domain.ConnectionConfig, password string) (*LiveConnection, error) {
	var dsn, pgURL string
	switch cfg.Kind {
	case domain.KindSQLite:
		dsn = buildSQLiteDSN(cfg)
	case domain.KindMySQL:
		dsn = buildMySQLDSN(cfg, password)
	case domain.KindPostgres:
		dsn = buildPostgresDSN(cfg, password)
		pgURL = buildPostgresURL(cfg, password)
	default:
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("unsupported database kind %q", cfg.Kind)}
	}

	driver := driverFor(cfg.Kind)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := deadline.Run(probeTimeout, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("probe %s: %w", name, err)
	}

	return &LiveConnection{
		Name:       name,
		Kind:       cfg.Kind,
		DriverName: driver,
		URL:        pgURL,
		dsn:        dsn,
		db:         db,
		lastUsed:   time.Now(),
	}, nil
}

// List returns all configured connection names in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns a copy of the stored configuration for name.
func (r *Registry) Config(name string) (*domain.ConnectionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	if !ok {
		return nil, &domain.NotFoundError{Name: name}
	}
	out := cfg.Clone()
	return &out, nil
}

// Remove deletes the configuration and closes any live handle. Removing a
// name that does not exist is not an error.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lc, ok := r.live[name]; ok {
		lc.db.Close()
		delete(r.live, name)
	}
	if _, ok := r.configs[name]; !ok {
		return nil
	}
	delete(r.configs, name)
	if r.secrets != nil {
		r.secrets.Delete("db:" + name)
	}
	return r.store.Save(r.configs)
}

// Close stops background workers and closes every live handle.
func (r *Registry) Close() error {
	close(r.done)
	if r.reaper != nil {
		r.reaper.Stop()
	}
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, lc := range r.live {
		lc.db.Close()
		delete(r.live, name)
	}
	return nil
}
