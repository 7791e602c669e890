package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf16"

	"catdb/internal/domain"
	"catdb/internal/secret"
)

// Store persists the named connection configurations as a JSON document.
// Passwords are obfuscated with rot13 before they touch disk; this keeps
// them out of casual greps but is not a security boundary (see the secret
// package).
type Store struct {
	path string
}

// NewStore returns a store backed by the given file path. The parent
// directory is created on the first Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads all stored configurations. A missing file yields an empty
// map. A file that cannot be decoded is moved aside to <path>.bak and an
// empty map is returned, so one corrupted write never bricks the app.
func (s *Store) Load() (map[string]*domain.ConnectionConfig, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*domain.ConnectionConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read connections file: %w", err)
	}

	text := decodeConfigBytes(raw)
	var configs map[string]*domain.ConnectionConfig
	if err := json.Unmarshal(text, &configs); err != nil {
		bak := s.path + ".bak"
		if renameErr := os.Rename(s.path, bak); renameErr == nil {
			return map[string]*domain.ConnectionConfig{}, nil
		}
		return nil, fmt.Errorf("decode connections file: %w", err)
	}

	for _, cfg := range configs {
		if cfg != nil && cfg.Password != "" {
			cfg.Password = secret.Rotate13(cfg.Password)
		}
	}
	if configs == nil {
		configs = map[string]*domain.ConnectionConfig{}
	}
	return configs, nil
}

// Save rewrites the whole file from the given map.
func (s *Store) Save(configs map[string]*domain.ConnectionConfig) error {
	onDisk := make(map[string]*domain.ConnectionConfig, len(configs))
	for name, cfg := range configs {
		c := cfg.Clone()
		if c.Password != "" {
			c.Password = secret.Rotate13(c.Password)
		}
		onDisk[name] = &c
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("encode connections: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write connections file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace connections file: %w", err)
	}
	return nil
}

// decodeConfigBytes normalizes the historical encodings the file has been
// written in: UTF-8 (with or without BOM) and UTF-16 of either byte order.
func decodeConfigBytes(raw []byte) []byte {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return raw[3:]
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return utf16Decode(raw[2:], false)
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return utf16Decode(raw[2:], true)
	}
	return raw
}

func utf16Decode(b []byte, bigEndian bool) []byte {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		if bigEndian {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		} else {
			units = append(units, uint16(b[i+1])<<8|uint16(b[i]))
		}
	}
	return []byte(string(utf16.Decode(units)))
}
