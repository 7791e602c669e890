package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"catdb/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestDir(t *testing.T) {
	home := setHome(t)
	dir, err := settings.Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".catdb"), dir)
}

func TestLoadAI_Defaults(t *testing.T) {
	setHome(t)
	t.Setenv("OPENAI_API_KEY", "from-env")

	s := settings.LoadAI()
	assert.Equal(t, "https://api.openai.com/v1", s.BaseURL)
	assert.NotEmpty(t, s.ModelName)
	assert.Equal(t, "from-env", s.APIKey, "default key reference resolves through the environment")
	assert.True(t, s.IncludeSchemaInPrompt)
}

func TestSaveLoadAI_RoundTrip(t *testing.T) {
	setHome(t)

	in := settings.AISettings{
		BaseURL:               "https://llm.internal/v1",
		ModelName:             "sql-helper",
		APIKey:                "literal-key",
		IncludeSchemaInPrompt: false,
	}
	require.NoError(t, settings.SaveAI(in))

	out := settings.LoadAI()
	assert.Equal(t, in.BaseURL, out.BaseURL)
	assert.Equal(t, in.ModelName, out.ModelName)
	assert.Equal(t, "literal-key", out.APIKey, "value that is not an env var name passes through")
	assert.False(t, out.IncludeSchemaInPrompt)
}

func TestLoadAI_EnvIndirection(t *testing.T) {
	setHome(t)
	t.Setenv("MY_LLM_KEY", "resolved-secret")

	require.NoError(t, settings.SaveAI(settings.AISettings{
		BaseURL:   "https://llm.internal/v1",
		ModelName: "m",
		APIKey:    "MY_LLM_KEY",
	}))

	s := settings.LoadAI()
	assert.Equal(t, "resolved-secret", s.APIKey)
}

func TestLoadAI_LegacyAPIURLKey(t *testing.T) {
	home := setHome(t)
	dir := filepath.Join(home, ".catdb")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai_settings.json"),
		[]byte(`{"api_url": "https://legacy.internal/v1", "model_name": "m"}`), 0o600))

	s := settings.LoadAI()
	assert.Equal(t, "https://legacy.internal/v1", s.BaseURL)
}

func TestLoadAI_CorruptFileFallsBackToDefaults(t *testing.T) {
	home := setHome(t)
	dir := filepath.Join(home, ".catdb")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai_settings.json"), []byte("{broken"), 0o600))

	s := settings.LoadAI()
	assert.Equal(t, "https://api.openai.com/v1", s.BaseURL)
}

func TestAppState_RoundTrip(t *testing.T) {
	setHome(t)

	require.NoError(t, settings.SaveState(settings.AppState{LastSQL: "SELECT 1", DarkMode: true}))
	state := settings.LoadState()
	assert.Equal(t, "SELECT 1", state.LastSQL)
	assert.True(t, state.DarkMode)
}

func TestAppState_MissingFile(t *testing.T) {
	setHome(t)
	state := settings.LoadState()
	assert.Zero(t, state)
}
