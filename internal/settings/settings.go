// Package settings persists user preferences under the config directory:
// AI integration settings and small bits of application state.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	aiSettingsFile = "ai_settings.json"
	appStateFile   = "app_state.json"

	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultAPIKeyRef = "OPENAI_API_KEY"
)

// Dir returns the per-user config directory, ~/.catdb.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".catdb"), nil
}

// AISettings configures the SQL-generation client. The stored APIKey may
// be either a literal key or the name of an environment variable holding
// it; Load resolves the indirection so callers always see the usable key.
type AISettings struct {
	BaseURL               string `json:"base_url"`
	ModelName             string `json:"model_name"`
	APIKey                string `json:"api_key"`
	IncludeSchemaInPrompt bool   `json:"include_schema_in_prompt"`
}

func defaultAISettings() AISettings {
	return AISettings{
		BaseURL:               defaultBaseURL,
		ModelName:             defaultModelName,
		APIKey:                defaultAPIKeyRef,
		IncludeSchemaInPrompt: true,
	}
}

// LoadAI reads AI settings, filling defaults for absent fields and
// tolerating the legacy "api_url" key. A missing or unreadable file
// yields the defaults rather than an error.
func LoadAI() AISettings {
	s := defaultAISettings()

	dir, err := Dir()
	if err != nil {
		s.APIKey = resolveKey(s.APIKey)
		return s
	}
	raw, err := os.ReadFile(filepath.Join(dir, aiSettingsFile))
	if err != nil {
		s.APIKey = resolveKey(s.APIKey)
		return s
	}

	var data struct {
		BaseURL               string  `json:"base_url"`
		APIURL                string  `json:"api_url"` // legacy spelling
		ModelName             string  `json:"model_name"`
		APIKey                *string `json:"api_key"`
		IncludeSchemaInPrompt *bool   `json:"include_schema_in_prompt"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		s.APIKey = resolveKey(s.APIKey)
		return s
	}

	if data.BaseURL != "" {
		s.BaseURL = data.BaseURL
	} else if data.APIURL != "" {
		s.BaseURL = data.APIURL
	}
	if data.ModelName != "" {
		s.ModelName = data.ModelName
	}
	if data.APIKey != nil {
		s.APIKey = *data.APIKey
	}
	if data.IncludeSchemaInPrompt != nil {
		s.IncludeSchemaInPrompt = *data.IncludeSchemaInPrompt
	}
	s.APIKey = resolveKey(s.APIKey)
	return s
}

// resolveKey treats the stored value as an environment variable name
// first, then as the literal key.
func resolveKey(stored string) string {
	if stored == "" {
		return ""
	}
	if v, ok := os.LookupEnv(stored); ok {
		return v
	}
	return stored
}

// SaveAI writes the settings as given. Callers that want the env-var
// indirection should store the variable name, never the resolved key.
func SaveAI(s AISettings) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ai settings: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, aiSettingsFile), data, 0o600)
}

// AppState is the small slice of UI state preserved between sessions.
type AppState struct {
	LastSQL  string `json:"last_sql,omitempty"`
	DarkMode bool   `json:"dark_mode,omitempty"`
}

// LoadState reads the persisted state; missing or corrupt files yield the
// zero state.
func LoadState() AppState {
	var state AppState
	dir, err := Dir()
	if err != nil {
		return state
	}
	raw, err := os.ReadFile(filepath.Join(dir, appStateFile))
	if err != nil {
		return state
	}
	_ = json.Unmarshal(raw, &state)
	return state
}

// SaveState persists the state.
func SaveState(state AppState) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode app state: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, appStateFile), data, 0o600)
}
